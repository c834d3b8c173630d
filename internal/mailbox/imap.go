package mailbox

import (
	"fmt"
	"log"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Config holds the IMAP account parameters.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Folder   string
}

// Message is one fetched mail with its attachments.
type Message struct {
	SeqNum      uint32
	Subject     string
	Attachments []Attachment
}

// Fetcher pulls unseen messages from one folder.
type Fetcher struct {
	cfg  Config
	logf func(format string, args ...any)
}

func NewFetcher(cfg Config) *Fetcher {
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	return &Fetcher{cfg: cfg, logf: log.Printf}
}

// FetchUnseen downloads every unseen message, extracts its attachments and
// marks the message seen. A message whose MIME structure cannot be parsed
// is logged and left unseen for manual inspection.
func (f *Fetcher) FetchUnseen() ([]Message, error) {
	c, err := imapclient.DialTLS(fmt.Sprintf("%s:%d", f.cfg.Host, f.cfg.Port), nil)
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Login(f.cfg.Username, f.cfg.Password).Wait(); err != nil {
		return nil, fmt.Errorf("imap login: %w", err)
	}
	defer func() { _ = c.Logout().Wait() }()

	if _, err := c.Select(f.cfg.Folder, nil).Wait(); err != nil {
		return nil, fmt.Errorf("select %s: %w", f.cfg.Folder, err)
	}

	search, err := c.Search(&imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("search unseen: %w", err)
	}
	nums := search.AllSeqNums()
	if len(nums) == 0 {
		return nil, nil
	}

	section := &imap.FetchItemBodySection{}
	msgs, err := c.Fetch(imap.SeqSetNum(nums...), &imap.FetchOptions{
		Envelope:    true,
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var out []Message
	var processed []uint32
	for _, m := range msgs {
		raw := m.FindBodySection(section)
		if raw == nil {
			continue
		}
		atts, err := ExtractAttachments(raw)
		if err != nil {
			f.logf("mailbox: message %d skipped: %v", m.SeqNum, err)
			continue
		}
		msg := Message{SeqNum: m.SeqNum, Attachments: atts}
		if m.Envelope != nil {
			msg.Subject = m.Envelope.Subject
		}
		out = append(out, msg)
		processed = append(processed, m.SeqNum)
	}

	if len(processed) > 0 {
		store := c.Store(imap.SeqSetNum(processed...), &imap.StoreFlags{
			Op:     imap.StoreFlagsAdd,
			Flags:  []imap.Flag{imap.FlagSeen},
			Silent: true,
		}, nil)
		if err := store.Close(); err != nil {
			f.logf("mailbox: flagging seen: %v", err)
		}
	}
	return out, nil
}
