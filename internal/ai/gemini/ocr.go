package gemini

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/prompts"
	"go.uber.org/zap"
)

// TextReader extracts text from job posting screenshots.
type TextReader struct {
	gen    generator
	logger *zap.Logger
}

func NewTextReader(gen generator, logger *zap.Logger) *TextReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextReader{gen: gen, logger: logger}
}

func (r *TextReader) ExtractText(ctx context.Context, img ai.Image) (string, error) {
	if !ai.SupportedImageType(img.MIMEType) {
		return "", fmt.Errorf("%w: unsupported image type %q", ai.ErrInvalidInput, img.MIMEType)
	}
	if len(img.Data) == 0 {
		return "", fmt.Errorf("%w: image is empty", ai.ErrInvalidInput)
	}
	if len(img.Data) > ai.MaxImageSize {
		return "", fmt.Errorf("%w: image exceeds %d bytes", ai.ErrInvalidInput, ai.MaxImageSize)
	}

	resp, err := r.gen.Generate(ctx, Request{
		Message: prompts.OCR(),
		Images:  []ai.Image{img},
	})
	if errors.Is(err, ai.ErrEmptyResponse) {
		return "", ai.ErrNoText
	}
	if err != nil {
		return "", err
	}

	r.logger.Info("image text extracted",
		zap.String("mime_type", img.MIMEType),
		zap.Int("image_bytes", len(img.Data)),
		zap.Int("text_length", len(resp.Text)),
		zap.Duration("duration", resp.Duration),
	)
	return resp.Text, nil
}
