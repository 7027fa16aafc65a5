package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mail-export/model"
)

// MboxSource enumerates the messages of a local mbox archive. Messages that
// cannot be read from the archive still yield a handle, so the batch report
// accounts for them; opening such a handle fails with SourceUnavailable.
type MboxSource struct {
	Path   string
	Logger *slog.Logger
}

func (m *MboxSource) List(ctx context.Context) ([]Handle, error) {
	path := strings.TrimSpace(m.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	var handles []Handle
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return handles, nil
			}
			return nil, fmt.Errorf("mbox message %d: %w", idx, err)
		}

		locator := fmt.Sprintf("mbox:%s#%d", path, idx)
		raw, err := io.ReadAll(msgReader)
		if err != nil {
			if m.Logger != nil {
				m.Logger.Error("mbox message unreadable", "locator", locator, "err", err)
			}
			handles = append(handles, NewMemHandle(model.SourceKindMailbox, locator, nil))
			continue
		}

		handles = append(handles, NewMemHandle(model.SourceKindMailbox, locator, raw))
	}
}
