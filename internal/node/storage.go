package node

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
)

// SocketStorage is a Storage backed by the same control socket SocketNode
// subscribes on: each lookup is a short-lived request/response connection,
// one JSON line in, one JSON line out.
type SocketStorage struct {
	socketPath string
}

// NewSocketStorage returns a Storage that dials socketPath for each lookup.
func NewSocketStorage(socketPath string) *SocketStorage {
	return &SocketStorage{socketPath: socketPath}
}

type patchRequest struct {
	Kind string `json:"kind"`
	RID  string `json:"rid"`
	ID   string `json:"id"`
}

type patchResponse struct {
	Title string `json:"title"`
	Head  string `json:"head"`
	Error string `json:"error"`
}

// Patch opens a fresh connection, requests the patch identified by id
// within rid, and decodes the response.
func (s *SocketStorage) Patch(rid RID, id string) (Patch, error) {
	conn, err := net.Dial("unix", s.socketPath)
	if err != nil {
		return Patch{}, fmt.Errorf("node: dial %s: %w", s.socketPath, err)
	}
	defer conn.Close()

	req := patchRequest{Kind: "get_patch", RID: string(rid), ID: id}
	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return Patch{}, fmt.Errorf("node: request patch %s/%s: %w", rid, id, err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Patch{}, fmt.Errorf("node: read patch response: %w", err)
		}
		return Patch{}, fmt.Errorf("node: no response reading patch %s/%s", rid, id)
	}

	var resp patchResponse
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Patch{}, fmt.Errorf("node: decode patch response: %w", err)
	}
	if resp.Error != "" {
		return Patch{}, fmt.Errorf("node: %s", resp.Error)
	}

	return Patch{ID: id, Title: resp.Title, Head: resp.Head}, nil
}
