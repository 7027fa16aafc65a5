package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mail-export/model"
)

// IMAPOptions configures the connection to a live mailbox.
type IMAPOptions struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
}

func (o IMAPOptions) folder() string {
	if o.Folder == "" {
		return "INBOX"
	}
	return o.Folder
}

// IMAPSource enumerates the messages of one folder on an IMAP server. The
// message bodies are fetched up front (with Peek, so flags stay untouched)
// and wrapped in handles, so the session does not need to stay open while
// the batch runs.
type IMAPSource struct {
	Opts   IMAPOptions
	Logger *slog.Logger
}

func (s *IMAPSource) List(ctx context.Context) ([]Handle, error) {
	if s.Opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if s.Opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}

	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	folder := s.Opts.folder()
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", folder, err)
	}

	searchData, err := client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imapv2.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(uids...), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{bodySection},
	})

	buffers, err := fetchCmd.Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	handles := make([]Handle, 0, len(buffers))
	for _, buf := range buffers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		locator := fmt.Sprintf("imap://%s@%s/%s;uid=%d", s.Opts.Username, s.Opts.Host, folder, buf.UID)
		raw := buf.FindBodySection(bodySection)
		if len(raw) == 0 {
			if s.Logger != nil {
				s.Logger.Warn("imap message has empty body section", "locator", locator)
			}
			handles = append(handles, NewMemHandle(model.SourceKindMailbox, locator, nil))
			continue
		}

		handles = append(handles, NewMemHandle(model.SourceKindMailbox, locator, raw))
	}

	if s.Logger != nil {
		s.Logger.Debug("imap listing complete", "folder", folder, "messages", len(handles))
	}
	return handles, nil
}

func (s *IMAPSource) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.Opts.Host, strconv.Itoa(s.Opts.Port))
	options := &imapclient.Options{}

	var (
		client *imapclient.Client
		err    error
	)

	if s.Opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.Opts.Host,
			InsecureSkipVerify: s.Opts.InsecureSkipVerify,
		}
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.Opts.Username, s.Opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil && s.Logger != nil {
				s.Logger.Warn("imap logout failed", "err", err)
			}
		}
		_ = client.Close()
	}

	if s.Logger != nil {
		s.Logger.Debug("imap connection established", "address", address, "user", s.Opts.Username, "tls", s.Opts.UseTLS)
	}
	return client, cleanup, nil
}
