package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"filestore/internal/pipeline"
	"filestore/internal/storage"
	"filestore/internal/upload"
	"filestore/internal/variant"
	engine "filestore/pkg/storage"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotAnImage = errors.New("file is not an image")
	ErrNilIntake  = errors.New("nil intake")
)

// Service runs the file lifecycle: stage in the temp area, transform,
// commit to content-addressed storage, clean the temp area.
type Service struct {
	cfg      Config
	store    engine.StorageEngine
	variants *variant.Index
	remote   *upload.RemoteUploader
}

// NewService initializes the storage directories and the variant index
// described by cfg. Directory creation failures abort startup.
func NewService(ctx context.Context, cfg Config) (*Service, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store := storage.New(cfg.WebDir, storage.WithBaseURL(cfg.BaseURL))
	if err := store.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize storage: %w", err)
	}

	transport := upload.SchemeTransport{}
	httpTransport := upload.NewHTTPTransport(store.TempDir())
	transport["http"] = httpTransport
	transport["https"] = httpTransport
	if cfg.S3 != nil {
		s3Transport, err := upload.NewS3Transport(*cfg.S3, store.TempDir())
		if err != nil {
			return nil, err
		}
		transport["s3"] = s3Transport
	}

	variants, err := variant.Open(ctx, cfg.VariantDB)
	if err != nil {
		return nil, fmt.Errorf("open variant index: %w", err)
	}

	return NewServiceWith(cfg, store, variants, upload.NewRemoteUploader(transport)), nil
}

// NewServiceWith assembles a Service from already initialized parts.
// variants and remote may be nil.
func NewServiceWith(cfg Config, store engine.StorageEngine, variants *variant.Index, remote *upload.RemoteUploader) *Service {
	return &Service{
		cfg:      cfg.withDefaults(),
		store:    store,
		variants: variants,
		remote:   remote,
	}
}

func (s *Service) Close() error {
	if s.variants == nil {
		return nil
	}
	return s.variants.Close()
}

func (s *Service) Config() Config { return s.cfg }

// RemoteUploader returns the uploader for http(s) and, when configured,
// s3 sources.
func (s *Service) RemoteUploader() (*upload.RemoteUploader, error) {
	if s.remote == nil {
		return nil, errors.New("remote uploads are not configured")
	}
	return s.remote, nil
}

// Take describes the stored file addressed by hash.
func (s *Service) Take(hash string) (storage.StorageFileInfo, error) {
	return s.store.Take(hash)
}

// Describe resolves a public relative path to its stored file.
func (s *Service) Describe(relPath string) (storage.StorageFileInfo, error) {
	return s.store.Describe(relPath)
}

// Ingest stores the file described by intake after applying ops to it.
// The intake's temp file is consumed, whether or not ingestion succeeds.
func (s *Service) Ingest(ctx context.Context, intake *upload.FileIntake, ops []pipeline.Operation) (storage.StorageFileInfo, error) {
	if intake == nil {
		return storage.StorageFileInfo{}, ErrNilIntake
	}

	detected, err := mimetype.DetectFile(intake.File.TempName)
	if err != nil {
		s.discard(intake)
		return storage.StorageFileInfo{}, fmt.Errorf("detect content type: %w", err)
	}

	// The staged name carries the extension so image encoders can pick
	// the output format from it.
	ext := strings.ToLower(path.Ext(intake.File.Name))
	if ext == "" {
		ext = detected.Extension()
	}

	staged, err := s.store.Stage(intake.File.TempName, "upload"+ext)
	if err != nil {
		s.discard(intake)
		return storage.StorageFileInfo{}, err
	}
	defer s.cleanTemp(storage.StorageFileInfo{TempAbsolutePath: staged})

	if err := ctx.Err(); err != nil {
		return storage.StorageFileInfo{}, err
	}

	if len(ops) > 0 {
		if !isImage(detected) {
			return storage.StorageFileInfo{}, fmt.Errorf("%w: %s", ErrNotAnImage, detected.String())
		}
		if err := s.transform(staged, pipeline.NewStack(ops)); err != nil {
			return storage.StorageFileInfo{}, err
		}
	}

	info, err := s.commit(staged, ext)
	if err != nil {
		return storage.StorageFileInfo{}, err
	}

	if s.variants != nil {
		if err := s.variants.RecordOrigin(ctx, info.Hash); err != nil {
			return storage.StorageFileInfo{}, err
		}
	}

	slog.Info("Ingested file",
		"kind", intake.Kind,
		"source", intake.Source,
		"hash", info.Hash,
		"size", humanize.Bytes(uint64(max(intake.File.Size, 0))),
		"operations", len(ops),
	)
	return info, nil
}

// IngestAll ingests independent intakes concurrently, at most
// Config.Workers at a time. newOps is called once per intake because
// operations are single use. Results are in intake order.
func (s *Service) IngestAll(ctx context.Context, intakes []*upload.FileIntake, newOps func() ([]pipeline.Operation, error)) ([]storage.StorageFileInfo, error) {
	results := make([]storage.StorageFileInfo, len(intakes))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)

	for i, intake := range intakes {
		eg.Go(func() error {
			if intake == nil {
				return fmt.Errorf("intake %d: %w", i, ErrNilIntake)
			}

			var ops []pipeline.Operation
			if newOps != nil {
				var err error
				if ops, err = newOps(); err != nil {
					s.discard(intake)
					return fmt.Errorf("intake %d (%s): %w", i, intake.File.Name, err)
				}
			}

			info, err := s.Ingest(ctx, intake, ops)
			if err != nil {
				return fmt.Errorf("intake %d (%s): %w", i, intake.File.Name, err)
			}
			results[i] = info
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Derive applies ops to the stored file hash and stores the result as a
// new file. A derivation already recorded for the same source and chain
// is reused while its file still exists.
func (s *Service) Derive(ctx context.Context, hash string, ops []pipeline.Operation) (storage.StorageFileInfo, error) {
	src, err := s.store.Take(hash)
	if err != nil {
		return storage.StorageFileInfo{}, err
	}
	if !src.Exists {
		return storage.StorageFileInfo{}, &storage.StorageError{Op: "derive", Hash: hash, Path: src.AbsolutePath, Err: fs.ErrNotExist}
	}
	if len(ops) == 0 {
		return src, nil
	}

	stack := pipeline.NewStack(ops)
	signature := stack.Signature()

	if s.variants != nil {
		variantHash, ok, err := s.variants.Lookup(ctx, hash, signature)
		if err != nil {
			return storage.StorageFileInfo{}, err
		}
		if ok && s.store.IsExists(variantHash) {
			slog.Debug("Reusing derived file", "source", hash, "variant", variantHash)
			return s.store.Take(variantHash)
		}
	}

	staged := src.WithTempPath(s.store.TempPath(src.FileName))
	if err := s.store.CopyToTemp(staged); err != nil {
		return storage.StorageFileInfo{}, err
	}
	defer s.cleanTemp(staged)

	if err := s.transform(staged.TempAbsolutePath, stack); err != nil {
		return storage.StorageFileInfo{}, err
	}

	info, err := s.commit(staged.TempAbsolutePath, src.Ext())
	if err != nil {
		return storage.StorageFileInfo{}, err
	}

	if s.variants != nil {
		if err := s.variants.Record(ctx, hash, signature, info.Hash); err != nil {
			return storage.StorageFileInfo{}, err
		}
	}

	slog.Info("Derived file", "source", hash, "variant", info.Hash, "chain", pipeline.Describe(stack.Operations()))
	return info, nil
}

// Remove deletes the file for hash along with the variants derived from
// it. A variant file is kept while its hash is still an upload of its own
// or a variant of another source.
func (s *Service) Remove(ctx context.Context, hash string) error {
	if s.variants != nil {
		derived, err := s.variants.ForSource(ctx, hash)
		if err != nil {
			return err
		}
		if err := s.variants.Forget(ctx, hash); err != nil {
			return err
		}

		for _, v := range derived {
			if v.VariantHash == hash {
				continue
			}
			referenced, err := s.variants.Referenced(ctx, v.VariantHash)
			if err != nil {
				return err
			}
			if referenced {
				slog.Debug("Keeping shared variant", "source", hash, "variant", v.VariantHash)
				continue
			}
			if err := s.store.Remove(v.VariantHash); err != nil {
				return err
			}
		}
	}

	if err := s.store.Remove(hash); err != nil {
		return err
	}
	slog.Info("Removed file", "hash", hash)
	return nil
}

// transform decodes the image at p, builds stack against it, applies it
// and writes the result back to p.
func (s *Service) transform(p string, stack *pipeline.Stack) error {
	pic, err := pipeline.OpenPicture(p)
	if err != nil {
		return err
	}
	if err := stack.Build(pic); err != nil {
		return err
	}
	if err := stack.Apply(pic); err != nil {
		return err
	}
	return pic.Save(p)
}

// commit stores the staged file under its content address.
func (s *Service) commit(staged string, ext string) (storage.StorageFileInfo, error) {
	digest, err := storage.DigestFile(staged)
	if err != nil {
		return storage.StorageFileInfo{}, &storage.StorageError{Op: "digest", Path: staged, Err: err}
	}

	relPath, err := storage.ContentPath(digest, ext)
	if err != nil {
		return storage.StorageFileInfo{}, err
	}

	info, err := s.store.Describe(relPath)
	if err != nil {
		return storage.StorageFileInfo{}, err
	}
	if err := s.store.Put(info.WithTempPath(staged)); err != nil {
		return storage.StorageFileInfo{}, err
	}
	return s.store.Take(info.Hash)
}

func (s *Service) cleanTemp(info storage.StorageFileInfo) {
	if err := s.store.RemoveFromTemp(info); err != nil {
		slog.Error("Failed to clean temp file", "path", info.TempAbsolutePath, "err", err)
	}
}

// discard drops the temp file of an intake that never reached staging.
func (s *Service) discard(intake *upload.FileIntake) {
	if err := intake.Discard(); err != nil {
		slog.Error("Failed to discard intake", "path", intake.File.TempName, "err", err)
	}
}

func isImage(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "image/") {
			return true
		}
	}
	return false
}
