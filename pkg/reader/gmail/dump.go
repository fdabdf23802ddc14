package gmail

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	unsafeFilenameRe = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\s]`)
	underscoresRe    = regexp.MustCompile(`_+`)
)

// Dump writes the extracted text of up to limit messages matching query into
// dir, one file per message, for use as parser fixtures. Files that already
// exist are left alone. It returns the number of files written.
func (r *Reader) Dump(ctx context.Context, dir, query string, limit int64) (int, error) {
	if query == "" {
		query = r.queries[0]
	}
	if limit <= 0 {
		limit = 10
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating dump directory: %w", err)
	}

	resp, err := r.client.Users.Messages.List("me").Q(query).MaxResults(limit).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("listing messages: %w", err)
	}

	written := 0
	for _, m := range resp.Messages {
		ok, err := r.dumpMessage(ctx, dir, m.Id)
		if err != nil {
			r.logger.Warn("failed to dump message", "message_id", m.Id, "error", err)
			continue
		}
		if ok {
			written++
		}
	}
	r.logger.Info("dumped messages", "query", query, "written", written, "directory", dir)
	return written, nil
}

func (r *Reader) dumpMessage(ctx context.Context, dir, id string) (bool, error) {
	msg, err := r.client.Users.Messages.Get("me", id).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("getting message: %w", err)
	}
	m := ToMessage(msg)
	if m.Body == "" {
		return false, errors.New("empty message body")
	}

	name := SanitizeFilename(fmt.Sprintf("%s_%s.txt", m.ReceivedAt.Format("2006-01-02_150405"), m.Title))
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		r.logger.Debug("file already exists, skipping", "file", name)
		return false, nil
	}
	if err := os.WriteFile(path, []byte(m.Body+"\n"), 0o644); err != nil {
		return false, fmt.Errorf("writing file: %w", err)
	}
	r.logger.Debug("dumped message", "file", name, "subject", m.Title)
	return true, nil
}

// SanitizeFilename replaces characters that are unsafe in file names and
// caps the length at 200 bytes.
func SanitizeFilename(name string) string {
	name = unsafeFilenameRe.ReplaceAllString(name, "_")
	name = underscoresRe.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}
