// Package ingest implements the per-modality media pipelines: best-effort
// upload, size/format gating, model invocation and optional memory
// persistence. Only the model-invocation stage can fail a request; upload
// and persistence degrade into result flags.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
)

// uploadAsset runs the fire-and-forget upload stage. It never aborts the
// pipeline: on failure the URL is simply absent.
func uploadAsset(ctx context.Context, store adapter.ObjectStore, prefix string, asset *model.MediaAsset) (string, bool) {
	if store == nil || asset == nil || len(asset.Data) == 0 {
		return "", false
	}

	key := asset.ObjectKey(prefix, uuid.New().String())
	url, err := store.Upload(ctx, key, asset.Data, asset.MIMEType)
	if err != nil {
		logging.From(ctx).Warn("asset upload failed, continuing without URL",
			"key", key, "error", err)
		return "", false
	}
	return url, true
}

// saveMemory runs the optional persistence stage. Failures are logged and
// reflected only in the returned flag.
func saveMemory(ctx context.Context, memory *memsvc.Service, text string, modality model.Modality, metadata map[string]string) bool {
	if memory == nil {
		return false
	}
	if _, err := memory.Store(ctx, text, modality, metadata); err != nil {
		logging.From(ctx).Warn("failed to save interaction to memory",
			"modality", modality, "error", err)
		return false
	}
	return true
}

// compositeText builds the canonical textual representation of an analyzed
// media interaction for the memory model.
func compositeText(modality model.Modality, question, answer string) string {
	label := map[model.Modality]string{
		model.ModalityImage: "Image",
		model.ModalityAudio: "Audio",
		model.ModalityVideo: "Video",
	}[modality]

	if question == "" {
		return fmt.Sprintf("%s Transcript - %s", label, answer)
	}
	return fmt.Sprintf("%s Analysis - Q: %s A: %s", label, question, answer)
}

func assetMetadata(asset *model.MediaAsset, url string) map[string]string {
	meta := map[string]string{
		"file_name": asset.Name,
		"mime_type": asset.MIMEType,
		"size":      fmt.Sprintf("%d", asset.SizeBytes()),
	}
	if url != "" {
		meta["url"] = url
	}
	return meta
}
