package nats_exchange_flow

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strings"
	"sync"
)

// ZipEntry is a file or a directory in a ZipMessage tree.
type ZipEntry struct {
	Name     string
	Content  []byte
	Children []*ZipEntry
	dir      bool
}

func NewZipFile(name string, content []byte) *ZipEntry {
	return &ZipEntry{Name: name, Content: content}
}

func NewZipDirectory(name string, children ...*ZipEntry) *ZipEntry {
	return &ZipEntry{Name: strings.TrimSuffix(name, "/"), Children: children, dir: true}
}

func (e *ZipEntry) IsDirectory() bool {
	return e.dir || len(e.Children) > 0
}

func (e *ZipEntry) Add(children ...*ZipEntry) *ZipEntry {
	e.dir = true
	e.Children = append(e.Children, children...)
	return e
}

// ZipMessage builds its payload as a zip archive of its entries. The archive
// is rebuilt on every payload access, also through the embedded Message, so
// later entry changes are visible to every endpoint it is sent with.
type ZipMessage struct {
	*Message

	entriesMu sync.RWMutex
	entries   []*ZipEntry
}

func NewZipMessage(opts ...MessageOption) (*ZipMessage, error) {
	msg, err := NewMessage(nil, append([]MessageOption{WithType(MessageTypeUnspecified)}, opts...)...)
	if err != nil {
		return nil, err
	}
	z := &ZipMessage{Message: msg}
	msg.setPayloadFunc(func() (any, error) {
		return z.Archive()
	})
	return z, nil
}

func (z *ZipMessage) AddEntry(entries ...*ZipEntry) *ZipMessage {
	z.entriesMu.Lock()
	z.entries = append(z.entries, entries...)
	z.entriesMu.Unlock()
	return z
}

func (z *ZipMessage) Entries() []*ZipEntry {
	z.entriesMu.RLock()
	defer z.entriesMu.RUnlock()
	return append([]*ZipEntry(nil), z.entries...)
}

func (z *ZipMessage) Archive() ([]byte, error) {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	for _, entry := range z.Entries() {
		if err := writeZipEntry(w, "", entry); err != nil {
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("cannot finish zip archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(w *zip.Writer, parent string, entry *ZipEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("zip entry without name under %q", parent)
	}
	name := path.Join(parent, entry.Name)
	if entry.IsDirectory() {
		if _, err := w.Create(name + "/"); err != nil {
			return fmt.Errorf("cannot add zip directory %s: %w", name, err)
		}
		for _, child := range entry.Children {
			if err := writeZipEntry(w, name, child); err != nil {
				return err
			}
		}
		return nil
	}

	f, err := w.Create(name)
	if err != nil {
		return fmt.Errorf("cannot add zip file %s: %w", name, err)
	}
	if _, err := f.Write(entry.Content); err != nil {
		return fmt.Errorf("cannot write zip file %s: %w", name, err)
	}
	return nil
}

// ToMessage snapshots the current archive into a plain Message with the same identity.
func (z *ZipMessage) ToMessage() (*Message, error) {
	data, err := z.Archive()
	if err != nil {
		return nil, err
	}
	msg := NewMessageFrom(z.Message, false)
	msg.SetPayload(data)
	return msg, nil
}
