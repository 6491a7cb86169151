// Package export packages a kit into a ZIP archive organized by sound type.
package export

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kitstudio/internal/blob"
	"kitstudio/internal/metrics"
	"kitstudio/internal/naming"
	"kitstudio/pkg/domain"
)

// DefaultConcurrency bounds parallel blob fetches.
const DefaultConcurrency = 4

// Kits loads a kit with its member sounds in kit order.
type Kits interface {
	GetKit(ctx context.Context, id string) (domain.Kit, []domain.Sound, error)
}

// Failure is a member that could not be fetched.
type Failure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// Report lists the archive entries written and the members left out.
type Report struct {
	Archive string    `json:"archive"`
	Files   []string  `json:"files"`
	Failed  []Failure `json:"failed"`
}

// Exporter writes kit archives.
type Exporter struct {
	kits        Kits
	store       blob.Store
	origin      blob.Origin
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithConcurrency sets the number of parallel fetches.
func WithConcurrency(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Exporter) { e.metrics = m }
}

// New builds an exporter. origin resolves stored URLs that carry no key.
func New(kits Kits, store blob.Store, origin blob.Origin, opts ...Option) *Exporter {
	e := &Exporter{kits: kits, store: store, origin: origin, concurrency: DefaultConcurrency, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type member struct {
	label string
	key   string
	entry string
	data  []byte
	err   error
}

// Export writes the kit archive to w. Members that cannot be fetched are
// reported and left out; only kit lookup, cancellation and write errors fail
// the export.
func (e *Exporter) Export(ctx context.Context, kitID string, w io.Writer) (Report, error) {
	kit, sounds, err := e.kits.GetKit(ctx, kitID)
	if err != nil {
		return Report{}, err
	}
	report := Report{Archive: ArchiveName(kit.Name), Files: []string{}, Failed: []Failure{}}

	members := e.plan(kit, sounds)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, m := range members {
		if m.err != nil {
			continue
		}
		g.Go(func() error {
			m.data, m.err = e.fetch(gctx, m.key)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("export kit %s: %w", kitID, err)
	}

	zw := zip.NewWriter(w)
	modified := time.Now().UTC()
	for _, m := range members {
		if m.err != nil {
			report.Failed = append(report.Failed, Failure{Name: m.label, Error: m.err.Error()})
			e.metrics.ExportFile("failed")
			e.logger.Warn("export member skipped", zap.String("kit_id", kitID), zap.String("member", m.label), zap.Error(m.err))
			continue
		}
		if err := writeEntry(zw, m.entry, m.data, modified); err != nil {
			return report, fmt.Errorf("export kit %s: %w", kitID, err)
		}
		report.Files = append(report.Files, m.entry)
		e.metrics.ExportFile("written")
	}
	if len(kit.SEONames) > 0 {
		body := strings.Join(kit.SEONames, "\n") + "\n"
		if err := writeEntry(zw, "seo.txt", []byte(body), modified); err != nil {
			return report, fmt.Errorf("export kit %s: %w", kitID, err)
		}
		report.Files = append(report.Files, "seo.txt")
	}
	if err := zw.Close(); err != nil {
		return report, fmt.Errorf("export kit %s: %w", kitID, err)
	}
	e.logger.Info("kit exported", zap.String("kit_id", kitID), zap.Int("files", len(report.Files)), zap.Int("failed", len(report.Failed)))
	return report, nil
}

// plan resolves storage keys and archive paths for every member in kit order.
func (e *Exporter) plan(kit domain.Kit, sounds []domain.Sound) []*member {
	members := make([]*member, 0, len(sounds)+1)
	taken := make(map[string]struct{})
	for _, s := range sounds {
		name := kit.SoundNamesInKit[s.ID]
		if name == "" || name == domain.NamePending {
			name = naming.FallbackName(s.OriginalName)
		}
		m := &member{label: s.OriginalName}
		m.key, m.err = e.resolveKey(s.StorageKey, s.StorageURL)
		m.entry = uniquePath(taken, s.SoundType.Folder(), safeName(name), extension(s.OriginalName, m.key))
		members = append(members, m)
	}
	if kit.CoverArtURL != "" {
		m := &member{label: "cover art"}
		m.key, m.err = e.resolveKey("", kit.CoverArtURL)
		m.entry = "cover" + extension("", m.key)
		members = append(members, m)
	}
	return members
}

func (e *Exporter) resolveKey(key, url string) (string, error) {
	if key != "" {
		return key, nil
	}
	if e.origin.IsZero() {
		return "", fmt.Errorf("no storage key for %s and no public origin configured", url)
	}
	return e.origin.KeyFromURL(url)
}

func (e *Exporter) fetch(ctx context.Context, key string) ([]byte, error) {
	_, rc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func writeEntry(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// ArchiveName returns the download name for a kit archive.
func ArchiveName(kitName string) string {
	return blob.SanitizeFilename(strings.TrimSpace(kitName)) + ".zip"
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':':
			return '-'
		case r < 0x20:
			return -1
		}
		return r
	}, name)
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "Untitled"
	}
	return name
}

// extension prefers the original filename's extension, then the key's.
func extension(original, key string) string {
	if ext := path.Ext(original); ext != "" {
		return strings.ToLower(ext)
	}
	if ext := path.Ext(key); ext != "" && !strings.Contains(ext, "/") {
		return strings.ToLower(ext)
	}
	return ""
}

func uniquePath(taken map[string]struct{}, folder, name, ext string) string {
	candidate := path.Join(folder, name+ext)
	for n := 2; ; n++ {
		lower := strings.ToLower(candidate)
		if _, ok := taken[lower]; !ok {
			taken[lower] = struct{}{}
			return candidate
		}
		candidate = path.Join(folder, fmt.Sprintf("%s %d%s", name, n, ext))
	}
}
