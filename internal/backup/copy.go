package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cardsync-go/internal/agent"
)

const copyBufferSize = 1 << 20

// copyOutcome is what happened to one file.
type copyOutcome int

const (
	outcomeCopied copyOutcome = iota + 1
	outcomeAlreadyPresent
)

// backupFile brings dst in line with the manifest record f, reading from src.
// A destination that already matches in size and fingerprint is left alone.
// Otherwise the bytes go to a temp file next to dst, which is verified and
// only then renamed into place.
func (e *Engine) backupFile(ctx context.Context, src, dst string, f agent.FileRecord) (copyOutcome, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}

	if e.matches(dst, f) {
		return outcomeAlreadyPresent, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonSourceUnreadable, Err: err}
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.cardsync-tmp")
	if err != nil {
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	var r io.Reader = in
	if e.limiter != nil {
		r = &rateLimitedReader{ctx: ctx, r: in, limiter: e.limiter}
	}

	buf := make([]byte, copyBufferSize)
	if _, err := io.CopyBuffer(tmp, r, buf); err != nil {
		tmp.Close()
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}

	if err := e.verify(tmpPath, f); err != nil {
		return 0, err
	}

	if !f.ModifiedAt.IsZero() {
		if err := os.Chtimes(tmpPath, f.ModifiedAt, f.ModifiedAt); err != nil {
			e.logger.Debug("preserving modification time", "path", f.RelativePath, "error", err)
		}
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: fmt.Errorf("rename: %w", err)}
	}
	return outcomeCopied, nil
}

// verify re-stats and re-fingerprints a copy against its manifest record.
func (e *Engine) verify(path string, f agent.FileRecord) error {
	info, err := os.Stat(path)
	if err != nil {
		return &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}
	if info.Size() != f.Size {
		return &VerifyError{
			Path:   f.RelativePath,
			Reason: ReasonSizeMismatch,
			Err:    fmt.Errorf("copied %d bytes, manifest has %d", info.Size(), f.Size),
		}
	}

	fp, err := e.fingerprint(path, info.Size())
	if err != nil {
		return &VerifyError{Path: f.RelativePath, Reason: ReasonCopyFailed, Err: err}
	}
	if fp != f.Fingerprint {
		return &VerifyError{Path: f.RelativePath, Reason: ReasonFingerprintMismatch, Err: errors.New("content differs from manifest")}
	}
	return nil
}

// matches reports whether dst already holds the manifest's content.
func (e *Engine) matches(dst string, f agent.FileRecord) bool {
	info, err := os.Stat(dst)
	if err != nil || !info.Mode().IsRegular() || info.Size() != f.Size {
		return false
	}
	fp, err := e.fingerprint(dst, info.Size())
	return err == nil && fp == f.Fingerprint
}
