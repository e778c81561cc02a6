package backup

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nasriyasoftware/cachify/cerrors"
)

const magic = "CACHE_BACKUP v1"

// BackupStream writes a line-delimited framing, optionally through a
// transparent encrypting transform.
type BackupStream struct {
	sink io.Writer
	enc  *cipherWriter
	body io.Writer
}

// NewBackupStream writes the magic/created-at header to sink and returns a
// stream ready for WriteRecord calls. If passphrase is non-empty, every byte
// written after the magic line is encrypted.
func NewBackupStream(sink io.Writer, passphrase string) (*BackupStream, error) {
	if _, err := io.WriteString(sink, magic+"\n"); err != nil {
		return nil, err
	}

	bs := &BackupStream{sink: sink, body: sink}
	if passphrase != "" {
		enc, err := newCipherWriter(sink, passphrase, rand.Reader)
		if err != nil {
			return nil, err
		}
		bs.enc = enc
		bs.body = enc
	}

	if err := bs.writeLine("CREATED_AT " + time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return nil, err
	}
	return bs, nil
}

func (bs *BackupStream) writeLine(s string) error {
	_, err := io.WriteString(bs.body, s+"\n")
	return err
}

// WriteRecord appends one record export as a RECORD line.
func (bs *BackupStream) WriteRecord(rec map[string]any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("backup: encode record: %w", err)
	}
	return bs.writeLine("RECORD " + string(data))
}

// Close writes the END_BACKUP trailer and flushes any pending cipher block.
func (bs *BackupStream) Close() error {
	if err := bs.writeLine("END_BACKUP"); err != nil {
		return err
	}
	if bs.enc != nil {
		return bs.enc.Close()
	}
	return nil
}

// RestoreStream reads the framing NewBackupStream writes, yielding decoded
// record maps one at a time.
type RestoreStream struct {
	scanner *bufio.Scanner
	done    bool
}

// NewRestoreStream validates the magic line and wraps source in a
// decrypting transform if passphrase is non-empty.
func NewRestoreStream(source io.Reader, passphrase string) (*RestoreStream, error) {
	br := bufio.NewReader(source)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("backup: read magic: %w", err)
	}
	if strings.TrimRight(line, "\r\n") != magic {
		return nil, cerrors.ErrStreamTornDown.WithDetails("missing or unrecognized magic line")
	}

	var body io.Reader = br
	if passphrase != "" {
		cr, err := newCipherReader(br, passphrase)
		if err != nil {
			return nil, err
		}
		body = cr
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &RestoreStream{scanner: sc}, nil
}

// Next returns the next decoded RECORD, or ok=false once END_BACKUP or EOF
// is reached. Lines that don't start with "RECORD " are ignored.
func (rs *RestoreStream) Next() (map[string]any, bool, error) {
	if rs.done {
		return nil, false, nil
	}
	for rs.scanner.Scan() {
		line := rs.scanner.Text()
		if line == "END_BACKUP" {
			rs.done = true
			return nil, false, nil
		}
		if !strings.HasPrefix(line, "RECORD ") {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "RECORD ")), &rec); err != nil {
			return nil, false, fmt.Errorf("backup: decode record: %w", err)
		}
		return rec, true, nil
	}
	rs.done = true
	if err := rs.scanner.Err(); err != nil {
		return nil, false, cerrors.ErrStreamTornDown.WithCause(err)
	}
	return nil, false, nil
}
