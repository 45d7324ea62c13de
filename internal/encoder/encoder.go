// Package encoder renders order numbers as QR code PNG images and stores them
// where the HTTP layer can serve them.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

var (
	ErrInput   = errors.New("invalid order number")
	ErrStorage = errors.New("artifact storage failure")
)

// Fixed rendering configuration. Changing any of these changes every artifact.
const (
	SymbolVersion = 1
	Recovery      = qrcode.Medium
	ModulePixels  = 10
	// go-qrcode always draws a 4-module quiet zone unless DisableBorder is set
	QuietZone = 4
)

// DefaultURLPrefix is where the HTTP layer serves the artifact directory.
const DefaultURLPrefix = "/static/qrs/"

// Artifact is one rendered order number.
type Artifact struct {
	Value int64
	Image []byte
	Path  string // file on disk
	Ref   string // reference a client can fetch
}

// Encoder writes QR artifacts into a directory.
type Encoder struct {
	dir       string
	urlPrefix string
	log       logrus.FieldLogger
	observe   func(time.Duration, error)
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithURLPrefix sets the prefix joined with the file name to build Artifact.Ref.
func WithURLPrefix(prefix string) Option {
	return func(e *Encoder) { e.urlPrefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(e *Encoder) { e.log = log }
}

// WithObserver registers a callback invoked after every Encode.
func WithObserver(fn func(time.Duration, error)) Option {
	return func(e *Encoder) { e.observe = fn }
}

// New creates an encoder storing artifacts in dir, creating it if needed.
func New(dir string, opts ...Option) (*Encoder, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create artifact directory: %w", ErrStorage, err)
	}

	e := &Encoder{
		dir:       dir,
		urlPrefix: DefaultURLPrefix,
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Dir returns the artifact directory.
func (e *Encoder) Dir() string {
	return e.dir
}

// FileName returns the artifact file name for value.
func FileName(value int64) string {
	return "order_" + strconv.FormatInt(value, 10) + ".png"
}

// ParseValue parses a decimal order number. Anything that is not a positive
// integer fails with ErrInput.
func ParseValue(s string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInput, s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: %d is not positive", ErrInput, v)
	}
	return v, nil
}

// Render returns the PNG bytes for value without touching the file system.
// The output depends only on value.
func Render(value int64) ([]byte, error) {
	if value <= 0 {
		return nil, fmt.Errorf("%w: %d is not positive", ErrInput, value)
	}

	q, err := qrcode.NewWithForcedVersion(strconv.FormatInt(value, 10), SymbolVersion, Recovery)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInput, err)
	}
	q.ForegroundColor = color.Black
	q.BackgroundColor = color.White
	q.DisableBorder = false

	// 负数表示每个模块的像素数
	img, err := q.PNG(-ModulePixels)
	if err != nil {
		return nil, fmt.Errorf("render qr code: %w", err)
	}
	return img, nil
}

// Encode renders value and stores it as order_<value>.png. Encoding the same
// value again rewrites identical bytes.
func (e *Encoder) Encode(ctx context.Context, value int64) (art Artifact, err error) {
	start := time.Now()
	if e.observe != nil {
		defer func() { e.observe(time.Since(start), err) }()
	}

	if value <= 0 {
		return Artifact{}, fmt.Errorf("%w: %d is not positive", ErrInput, value)
	}

	img, err := Render(value)
	if err != nil {
		return Artifact{}, err
	}

	name := FileName(value)
	dst := filepath.Join(e.dir, name)
	if err := writeFile(dst, img); err != nil {
		e.log.WithError(err).WithField("path", dst).Error("Failed to write QR artifact")
		return Artifact{}, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	e.log.WithField("path", dst).Debug("QR artifact created")

	return Artifact{
		Value: value,
		Image: img,
		Path:  dst,
		Ref:   joinRef(e.urlPrefix, name),
	}, nil
}

func joinRef(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if strings.Contains(prefix, "://") {
		return strings.TrimSuffix(prefix, "/") + "/" + name
	}
	return path.Join("/", prefix, name)
}

// writeFile writes via a unique temp file so concurrent encodes of the same
// value never observe a partial image.
func writeFile(dst string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
