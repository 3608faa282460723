package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

const (
	r2Scheme      = "r2://"
	stagingPrefix = "staging/"
	// sniffLen covers every signature filetype inspects.
	sniffLen = 262
)

var ErrObjectStoreDisabled = errors.New("R2 object storage is not configured")

// MediaService produces the per-cycle working copy of an item's video.
type MediaService struct {
	dir    string
	client *http.Client
	store  ObjectStore
}

// NewMediaService stores working copies under dir. store may be nil, in which
// case r2:// references and public staging are unavailable.
func NewMediaService(dir string, downloadTimeout time.Duration, store ObjectStore) *MediaService {
	return &MediaService{
		dir:    dir,
		client: &http.Client{Timeout: downloadTimeout},
		store:  store,
	}
}

// Acquire copies, downloads or fetches ref into the media directory and returns
// the local path. The original of a local ref is left in place.
func (s *MediaService) Acquire(ctx context.Context, ref, name string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory: %w", err)
	}

	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(s.dir, sanitizeName(name)+"_"+id+".mp4")

	logger := log.With().Str("ref", ref).Str("dest", dest).Logger()

	switch {
	case isRemoteRef(ref):
		logger.Info().Msg("downloading video")
		err = s.download(ctx, ref, dest)
	case strings.HasPrefix(ref, r2Scheme):
		logger.Info().Msg("fetching video from R2")
		err = s.fetchObject(ctx, strings.TrimPrefix(ref, r2Scheme), dest)
	default:
		logger.Info().Msg("copying local video")
		err = copyFile(ref, dest)
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	kind, err := sniff(dest)
	if err != nil {
		os.Remove(dest)
		return "", err
	}
	if !strings.HasPrefix(kind.MIME.Value, "video/") {
		os.Remove(dest)
		return "", fmt.Errorf("media is not a video (detected %q)", kind.MIME.Value)
	}

	if info, err := os.Stat(dest); err == nil {
		logger.Info().Int64("bytes", info.Size()).Str("mime", kind.MIME.Value).Msg("video ready")
	}
	return dest, nil
}

// Cleanup removes a working copy. Paths outside the media directory are never touched.
func (s *MediaService) Cleanup(path string) {
	if path == "" || !s.owns(path) {
		log.Warn().Str("path", path).Msg("refusing to remove file outside media directory")
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("failed to delete video file")
		return
	}
	log.Debug().Str("path", path).Msg("cleaned up video file")
}

// stagingReleaseTimeout bounds the delete of a staged object, which runs even
// after the publish context is done.
const stagingReleaseTimeout = 30 * time.Second

// PublicURL returns an address the platform can fetch the video from. Remote
// sources are used as-is; anything else is staged to the object store. The
// caller must call release once the platform has fetched the video; it removes
// the staged object.
func (s *MediaService) PublicURL(ctx context.Context, source, localPath string) (url string, release func(), err error) {
	noop := func() {}
	if isRemoteRef(source) {
		return source, noop, nil
	}
	if s.store == nil {
		return "", noop, ErrObjectStoreDisabled
	}

	kind, err := sniff(localPath)
	if err != nil {
		return "", noop, err
	}
	id, err := gonanoid.New()
	if err != nil {
		return "", noop, err
	}
	key := stagingPrefix + id + "." + kind.Extension

	f, err := os.Open(localPath)
	if err != nil {
		return "", noop, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	if err := s.store.Upload(ctx, key, f, kind.MIME.Value); err != nil {
		return "", noop, err
	}
	log.Debug().Str("key", key).Msg("staged video for public fetch")

	release = func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stagingReleaseTimeout)
		defer cancel()
		if err := s.store.Delete(dctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to remove staged video")
			return
		}
		log.Debug().Str("key", key).Msg("removed staged video")
	}
	return s.store.PublicURL(key), release, nil
}

func (s *MediaService) owns(path string) bool {
	return inDir(s.dir, path)
}

func (s *MediaService) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("invalid video URL: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("video download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("video download failed: unexpected status %d", resp.StatusCode)
	}
	return writeFile(dest, resp.Body)
}

func (s *MediaService) fetchObject(ctx context.Context, key, dest string) error {
	if s.store == nil {
		return ErrObjectStoreDisabled
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create video file: %w", err)
	}
	if err := s.store.Download(ctx, key, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func isRemoteRef(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("local video file not found: %s", src)
		}
		return fmt.Errorf("failed to open local video: %w", err)
	}
	defer in.Close()
	return writeFile(dest, in)
}

func writeFile(dest string, r io.Reader) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create video file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write video file: %w", err)
	}
	return out.Close()
}

func sniff(path string) (types.Type, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.Unknown, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return types.Unknown, errors.New("video file is empty")
		}
		return types.Unknown, fmt.Errorf("failed to read video: %w", err)
	}

	kind, err := filetype.Match(head[:n])
	if err != nil || kind == types.Unknown {
		return types.Unknown, errors.New("unrecognised media type")
	}
	return kind, nil
}

// sanitizeName keeps letters, digits, '-' and '_' and replaces the rest.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "video"
	}
	return b.String()
}
