package export

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"ideaboard/api/internal/board"
	"ideaboard/api/internal/store"
)

// BoardSource loads everything needed to draw a board.
type BoardSource interface {
	LoadBoard(ctx context.Context, boardID string) (store.BoardData, error)
}

type Service struct {
	source   BoardSource
	log      *zap.Logger
	now      func() time.Time
	lookPath func(string) (string, error)
}

func NewService(source BoardSource, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{source: source, log: log, now: time.Now, lookPath: exec.LookPath}
}

// Export renders boardID in the requested format.
func (s *Service) Export(ctx context.Context, boardID string, format Format) (*Result, error) {
	data, err := s.source.LoadBoard(ctx, boardID)
	if err != nil {
		return nil, fmt.Errorf("load board: %w", err)
	}
	snap := board.FromData(data)

	html, err := RenderBoardHTML(BuildTemplateData(snap, s.now()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(snap.Board.Name) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		started := s.now()
		res, err := s.renderPDF(ctx, html, snap.Board.Name)
		if err != nil {
			return nil, err
		}
		s.log.Info("board exported",
			zap.String("board_id", boardID),
			zap.String("format", string(format)),
			zap.Int("bytes", len(res.Data)),
			zap.Duration("duration", time.Since(started)),
		)
		return res, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
