package ci

import "testing"

func TestCIJobValidate(t *testing.T) {
	valid := CIJob{
		ProjectName: "myrepo",
		ProjectID:   "abc123",
		PatchBranch: "patches/1",
		PatchHead:   "deadbeef",
		GitURI:      "https://seed.radicle.xyz/abc123.git",
	}

	cases := []struct {
		name    string
		mutate  func(j CIJob) CIJob
		wantErr bool
	}{
		{"valid job", func(j CIJob) CIJob { return j }, false},
		{"empty project name", func(j CIJob) CIJob { j.ProjectName = ""; return j }, true},
		{"empty project id", func(j CIJob) CIJob { j.ProjectID = ""; return j }, true},
		{"empty patch branch", func(j CIJob) CIJob { j.PatchBranch = ""; return j }, true},
		{"empty patch head", func(j CIJob) CIJob { j.PatchHead = ""; return j }, true},
		{"empty git uri", func(j CIJob) CIJob { j.GitURI = ""; return j }, true},
		{"non-hex patch head", func(j CIJob) CIJob { j.PatchHead = "not-hex!"; return j }, true},
		{"relative git uri", func(j CIJob) CIJob { j.GitURI = "seed.radicle.xyz/abc123.git"; return j }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.mutate(valid).Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected an error, got none")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
