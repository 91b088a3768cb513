package files

import (
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	httperrors "github.com/nczempin/minihttpd/errors"
)

// UploadBufferSize is the only buffer an upload holds in memory.
const UploadBufferSize = 4096

const publishAttempts = 16

// Uploader stores request bodies as new files under an FS root. A file only
// becomes visible under its final name once every declared byte is on disk;
// a failed transfer leaves nothing behind.
type Uploader struct {
	fs  FS
	log zerolog.Logger
	now func() time.Time
}

func NewUploader(fsys FS, log zerolog.Logger) *Uploader {
	return &Uploader{
		fs:  fsys,
		log: log,
		now: time.Now,
	}
}

// Store copies exactly length bytes from r and returns the generated file
// name. A short body yields the reader's error (a protocol error for request
// bodies); disk failures yield an ErrorIO error.
func (u *Uploader) Store(r io.Reader, length int64) (string, error) {
	tmp := fmt.Sprintf(".part-%s-%03d", strconv.FormatInt(u.now().UnixNano(), 36), rand.Intn(1000))

	sink, err := u.fs.Create(tmp)
	if err != nil {
		return "", httperrors.NewIOError("cannot create upload file", err)
	}

	written, err := copyBody(sink, io.LimitReader(r, length))
	closeErr := sink.Close()
	if err == nil && written != length {
		err = httperrors.NewProtocolError(httperrors.ProtocolErrorIncompleteBody, fmt.Sprintf("received %d of %d bytes", written, length))
	}
	if err == nil && closeErr != nil {
		err = httperrors.NewIOError("cannot finish upload file", closeErr)
	}
	if err != nil {
		u.discard(tmp)
		return "", err
	}

	for attempt := 0; attempt < publishAttempts; attempt++ {
		name := u.generateName()
		err := u.fs.Publish(tmp, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			u.discard(tmp)
			return "", httperrors.NewIOError("cannot publish upload file", err)
		}
	}

	u.discard(tmp)
	return "", httperrors.NewIOError("no free upload name", nil)
}

// copyBody moves r into w one buffer at a time. Read errors are returned as
// is; write errors become ErrorIO errors.
func copyBody(w io.Writer, r io.Reader) (int64, error) {
	buf := make([]byte, UploadBufferSize)
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, httperrors.NewIOError("cannot write upload file", werr)
			}
			written += int64(n)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (u *Uploader) discard(tmp string) {
	if err := u.fs.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		u.log.Error().Err(err).Str("file", tmp).Msg("failed to remove partial upload")
	}
}

func (u *Uploader) generateName() string {
	return fmt.Sprintf("file_%s_%d.bin", u.now().Format("20060102150405"), rand.Intn(1000))
}
