package model

import (
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// MediaAsset is a raw upload handed to an ingestion pipeline. It is owned by
// the pipeline invocation that received it and is not retained after the
// request completes; the durable artifact is the uploaded object's URL.
// Assets are never embedded directly, always converted to text first.
type MediaAsset struct {
	Data     []byte
	MIMEType string
	Name     string
}

// SizeBytes returns the payload size.
func (a *MediaAsset) SizeBytes() int64 {
	return int64(len(a.Data))
}

// SizeMB returns the payload size in megabytes (1 MB = 1024*1024 bytes).
func (a *MediaAsset) SizeMB() float64 {
	return float64(len(a.Data)) / (1024 * 1024)
}

// Validate checks the asset is usable as pipeline input.
func (a *MediaAsset) Validate() error {
	if a == nil || len(a.Data) == 0 {
		return goerr.New("media asset is empty", goerr.T(ErrTagValidation))
	}
	if a.MIMEType == "" {
		return goerr.New("media asset MIME type is missing",
			goerr.V("name", a.Name), goerr.T(ErrTagValidation))
	}
	return nil
}

// ObjectKey builds the storage key for this asset under the given prefix.
// The id is a fresh upload identifier, unrelated to memory IDs.
func (a *MediaAsset) ObjectKey(prefix, id string) string {
	name := a.Name
	if name == "" {
		name = "upload"
	}
	return fmt.Sprintf("%s/%s-%s", prefix, id, name)
}
