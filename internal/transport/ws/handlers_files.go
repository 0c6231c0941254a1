package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"relaycore/internal/domain"
	"relaycore/internal/fileswarm"
	"relaycore/internal/observability/metrics"
)

type announceFileRequest struct {
	FileID          string   `json:"fileId"`
	MimeType        string   `json:"mimeType"`
	FileSize        int64    `json:"fileSize"`
	Checksum        string   `json:"checksum"`
	ChunkCount      int      `json:"chunkCount"`
	AvailableChunks []int    `json:"availableChunks"`
	SharedWith      []string `json:"sharedWith"`
}

func (s *Server) handleAnnounceFile(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req announceFileRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: malformed announceFile payload", domain.ErrValidation)
	}
	info, err := s.files.Announce(fileswarm.AnnounceInput{
		UserID:          c.auth.UserID,
		DeviceID:        c.auth.DeviceID,
		FileID:          req.FileID,
		MimeType:        req.MimeType,
		FileSize:        req.FileSize,
		Checksum:        req.Checksum,
		ChunkCount:      req.ChunkCount,
		AvailableChunks: req.AvailableChunks,
		SharedWith:      req.SharedWith,
	})
	if err != nil {
		return err
	}
	return c.reply(seq, "announceFileResponse", map[string]any{
		"success": true,
		"file":    info,
	})
}

type fileIDRequest struct {
	FileID string `json:"fileId"`
}

func parseFileID(data json.RawMessage) (string, error) {
	var req fileIDRequest
	if err := json.Unmarshal(data, &req); err != nil || req.FileID == "" {
		return "", fmt.Errorf("%w: fileId required", domain.ErrValidation)
	}
	return req.FileID, nil
}

func (s *Server) handleUnannounceFile(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	s.files.Unannounce(c.auth.UserID, c.auth.DeviceID, fileID)
	return c.reply(seq, "unannounceFileResponse", okAck)
}

type updateChunksRequest struct {
	FileID string `json:"fileId"`
	Chunks []int  `json:"chunks"`
}

func (s *Server) handleUpdateAvailableChunks(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req updateChunksRequest
	if err := json.Unmarshal(data, &req); err != nil || req.FileID == "" {
		return fmt.Errorf("%w: fileId required", domain.ErrValidation)
	}
	if err := s.files.UpdateAvailableChunks(c.auth.UserID, c.auth.DeviceID, req.FileID, req.Chunks); err != nil {
		return err
	}
	return c.reply(seq, "updateAvailableChunksResponse", okAck)
}

func (s *Server) handleGetFileInfo(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	info, err := s.files.GetFileInfo(c.auth.UserID, fileID)
	if err != nil {
		return err
	}
	return c.reply(seq, "getFileInfoResponse", map[string]any{
		"success": true,
		"file":    info,
	})
}

func (s *Server) handleRegisterLeecher(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	if err := s.files.RegisterLeecher(c.auth.UserID, c.auth.DeviceID, fileID); err != nil {
		return err
	}
	return c.reply(seq, "registerLeecherResponse", okAck)
}

func (s *Server) handleUnregisterLeecher(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	if err := s.files.UnregisterLeecher(c.auth.UserID, c.auth.DeviceID, fileID); err != nil {
		return err
	}
	return c.reply(seq, "unregisterLeecherResponse", okAck)
}

type searchFilesRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleSearchFiles(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req searchFilesRequest
	_ = json.Unmarshal(data, &req)

	results := s.files.SearchFiles(c.auth.UserID, req.Query)
	return c.reply(seq, "searchFilesResponse", map[string]any{
		"success": true,
		"files":   results,
	})
}

func (s *Server) handleGetActiveFiles(_ context.Context, c *Conn, seq *int64, _ json.RawMessage) error {
	files := s.files.GetActiveFiles(c.auth.UserID)
	return c.reply(seq, "getActiveFilesResponse", map[string]any{
		"success": true,
		"files":   files,
	})
}

func (s *Server) handleGetAvailableChunks(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	chunks, err := s.files.GetAvailableChunks(c.auth.UserID, fileID)
	if err != nil {
		return err
	}
	return c.reply(seq, "getAvailableChunksResponse", map[string]any{
		"success": true,
		"chunks":  chunks,
	})
}

type updateFileShareRequest struct {
	FileID        string   `json:"fileId"`
	Action        string   `json:"action"`
	TargetUserIDs []string `json:"targetUserIds"`
}

func (s *Server) handleUpdateFileShare(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	var req updateFileShareRequest
	if err := json.Unmarshal(data, &req); err != nil || req.FileID == "" {
		return fmt.Errorf("%w: fileId required", domain.ErrValidation)
	}
	if err := s.files.UpdateFileShare(c.auth.UserID, req.FileID, req.Action, req.TargetUserIDs); err != nil {
		metrics.FileShareMutationsTotal.WithLabelValues("rejected").Inc()
		return err
	}
	metrics.FileShareMutationsTotal.WithLabelValues("applied").Inc()
	return c.reply(seq, "updateFileShareResponse", okAck)
}

func (s *Server) handleGetSharedUsers(_ context.Context, c *Conn, seq *int64, data json.RawMessage) error {
	fileID, err := parseFileID(data)
	if err != nil {
		return err
	}
	users, err := s.files.GetSharedUsers(c.auth.UserID, fileID)
	if err != nil {
		return err
	}
	return c.reply(seq, "getSharedUsersResponse", map[string]any{
		"success": true,
		"users":   users,
	})
}
