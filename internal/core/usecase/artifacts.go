package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
	"github.com/kirillkom/medical-chronology/internal/core/ports"
)

const (
	inputDir     = "input"
	extractedDir = "extracted"
	draftsDir    = "drafts"
	outputDir    = "output"

	manifestName     = "manifest.json"
	documentsName    = "documents.json"
	draftName        = "draft.json"
	draftIssuesName  = "draft_issues.json"
	validatedName    = "validated.json"
	reportName       = "report.json"
	narrativeName    = "chronology.md"
	recordName       = "chronology.json"
	summaryName      = "summary.md"
	gapsName         = "gaps.md"
	spreadsheetName  = "chronology.xlsx"
	contentTypeJSON  = "application/json"
	contentTypeMD    = "text/markdown; charset=utf-8"
	contentTypeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePlain = "text/plain; charset=utf-8"
)

// persistedOutputs lists the persist artifacts in upload order.
var persistedOutputs = []struct {
	name        string
	contentType string
}{
	{narrativeName, contentTypeMD},
	{recordName, contentTypeJSON},
	{summaryName, contentTypeMD},
	{gapsName, contentTypeMD},
	{spreadsheetName, contentTypeXLSX},
}

func artifactKey(sessionID, dir, name string) string {
	return path.Join(sessionID, dir, name)
}

type manifestEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Order       int    `json:"order"`
	Key         string `json:"key"`
}

type validationOutcome struct {
	Outcome        RefineOutcome          `json:"outcome"`
	RoundsUsed     int                    `json:"rounds_used"`
	Report         domain.ViolationReport `json:"report"`
	GeneratorError string                 `json:"generator_error,omitempty"`
}

// artifactWriter collects refs of everything saved during one phase.
type artifactWriter struct {
	store ports.ArtifactStore
	refs  []domain.ArtifactRef
}

func (w *artifactWriter) save(ctx context.Context, key string, data []byte) error {
	ref, err := w.store.Save(ctx, key, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("save artifact %s: %w", key, err)
	}
	w.refs = append(w.refs, ref)
	return nil
}

func (w *artifactWriter) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact %s: %w", key, err)
	}
	return w.save(ctx, key, append(data, '\n'))
}

func readArtifact(ctx context.Context, store ports.ArtifactStore, key string) ([]byte, error) {
	rc, err := store.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", key, err)
	}
	return data, nil
}

func readJSON(ctx context.Context, store ports.ArtifactStore, key string, v any) error {
	data, err := readArtifact(ctx, store, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "decode artifact "+key, err)
	}
	return nil
}

// artifactsIntact reports whether every recorded artifact exists with its recorded digest.
func artifactsIntact(ctx context.Context, store ports.ArtifactStore, refs []domain.ArtifactRef) (bool, error) {
	for _, ref := range refs {
		ok, err := store.Exists(ctx, ref.Key)
		if err != nil {
			return false, fmt.Errorf("check artifact %s: %w", ref.Key, err)
		}
		if !ok {
			return false, nil
		}
		digest, err := store.Digest(ctx, ref.Key)
		if err != nil {
			return false, fmt.Errorf("digest artifact %s: %w", ref.Key, err)
		}
		if digest != ref.Digest {
			return false, nil
		}
	}
	return true, nil
}
