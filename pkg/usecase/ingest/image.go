package ingest

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/s-nakaya/kioku/pkg/adapter"
	"github.com/s-nakaya/kioku/pkg/model"
	memsvc "github.com/s-nakaya/kioku/pkg/service/memory"
	"github.com/s-nakaya/kioku/pkg/utils/logging"
)

const imageUnavailableResponse = "The image could not be analyzed because the vision model request failed. Please try again."

// Image answers a question about a single image and optionally persists the
// interaction.
type Image struct {
	gemini adapter.Gemini
	store  adapter.ObjectStore
	memory *memsvc.Service
}

func NewImage(gemini adapter.Gemini, store adapter.ObjectStore, memory *memsvc.Service) *Image {
	return &Image{
		gemini: gemini,
		store:  store,
		memory: memory,
	}
}

type ImageInput struct {
	Asset        *model.MediaAsset
	Question     string
	SaveToMemory bool
}

func (p *Image) Ingest(ctx context.Context, input ImageInput) (*model.ImageResult, error) {
	if err := input.Asset.Validate(); err != nil {
		return nil, goerr.Wrap(err, "image is required")
	}
	if input.Question == "" {
		return nil, goerr.New("question is required", goerr.T(model.ErrTagValidation))
	}

	result := &model.ImageResult{}
	result.SideEffects.AssetURL, result.SideEffects.Uploaded = uploadAsset(ctx, p.store, "images", input.Asset)

	answer, err := p.gemini.DescribeImage(ctx, input.Asset.Data, input.Asset.MIMEType, input.Question)
	if err != nil {
		if !goerr.HasTag(err, model.ErrTagUpstream) {
			return nil, err
		}
		// Primary-capability upstream failure degrades into the body.
		logging.From(ctx).Warn("image description failed, returning placeholder", "error", err)
		result.Response = imageUnavailableResponse
		return result, nil
	}
	result.Response = answer

	if input.SaveToMemory {
		meta := assetMetadata(input.Asset, result.SideEffects.AssetURL)
		meta["question"] = input.Question
		meta["answer"] = answer
		result.SideEffects.MemorySaved = saveMemory(ctx, p.memory,
			compositeText(model.ModalityImage, input.Question, answer), model.ModalityImage, meta)
	}

	return result, nil
}
