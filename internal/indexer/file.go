package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/mnemo/internal/models"
)

const (
	fileIDPrefix = "file:"

	MetaSourcePath  = "source_path"
	MetaSourceMtime = "source_mtime"
	MetaSourceSize  = "source_size"
	MetaTitle       = "title"
)

// FileDocID returns a stable document ID for path. The same cleaned absolute path
// always yields the same ID, so re-ingesting a file replaces its document.
func FileDocID(absolutePath string) string {
	hash := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return fileIDPrefix + hex.EncodeToString(hash[:])
}

// IngestFile extracts the text of the file at path and ingests it under FileDocID.
// Files already ingested with the same modification time and size are skipped and
// their stored document is returned.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if !idx.Allowed(absPath) {
		return nil, fmt.Errorf("%w: extension %q not in allowed list", models.ErrInvalidInput, filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", models.ErrInvalidInput, absPath)
	}

	docID := FileDocID(absPath)
	if doc, ok := idx.unchanged(ctx, docID, absPath, info); ok {
		idx.logger.Debug("skipping unchanged file", zap.String("path", absPath))
		return doc, nil
	}

	text, err := idx.extractText(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", absPath, err)
	}
	doc, err := idx.Ingest(ctx, &models.DocumentInput{
		ID:   docID,
		Text: text,
		Metadata: models.Metadata{
			{Key: MetaSourcePath, Value: absPath},
			{Key: MetaTitle, Value: filepath.Base(absPath)},
			{Key: MetaSourceMtime, Value: info.ModTime().UnixNano()},
			{Key: MetaSourceSize, Value: info.Size()},
		},
	})
	if err != nil {
		return nil, err
	}
	idx.logger.Debug("file ingested", zap.String("path", absPath), zap.String("doc_id", docID))
	return doc, nil
}

// RemoveFile removes the document ingested from path.
func (idx *Indexer) RemoveFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	return idx.Remove(ctx, FileDocID(absPath))
}

func (idx *Indexer) unchanged(ctx context.Context, docID, absPath string, info os.FileInfo) (*models.Document, bool) {
	doc, err := idx.store.Get(ctx, docID)
	if err != nil {
		return nil, false
	}
	if doc.Metadata.String(MetaSourcePath) != absPath {
		return nil, false
	}
	mtime, _ := doc.Metadata.Get(MetaSourceMtime)
	size, _ := doc.Metadata.Get(MetaSourceSize)
	return doc, mtime == info.ModTime().UnixNano() && size == info.Size()
}

func (idx *Indexer) extractText(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}
