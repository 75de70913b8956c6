// Package blob is the facade over the journey archive storage backends. Call
// sites depend on this package; concrete drivers live under internal/infra/blob.
package blob

import (
	"context"
	"fmt"
	"os"

	"provenancecore/internal/blob/core"
	fsstore "provenancecore/internal/infra/blob/fs"
	memorystore "provenancecore/internal/infra/blob/memory"
	s3store "provenancecore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface implemented by blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory test driver.
	DriverMemory = core.DriverMemory
)

// ErrUnsupported indicates an operation is not supported by a driver.
var ErrUnsupported = core.ErrUnsupported

// Open selects a Store implementation using environment variables.
//
//	PROVENANCE_BLOB_DRIVER: fs|s3|memory (default fs)
//	PROVENANCE_BLOB_FS_ROOT: directory root when driver=fs (default ./archivedata)
//	(S3 variables documented in the s3 driver)
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("PROVENANCE_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(os.Getenv("PROVENANCE_BLOB_FS_ROOT"))
	case DriverS3:
		return s3store.OpenFromEnv(ctx)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewMemory returns an in-memory Store suitable for tests.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a filesystem-backed Store rooted at the provided path.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// S3Config re-exports the s3 driver configuration type.
type S3Config = s3store.Config

// NewS3 constructs an S3-backed Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) { return s3store.New(ctx, cfg) }

// NewMockS3ForTests exposes the in-memory S3 mock for cross-package tests.
func NewMockS3ForTests() Store { return s3store.NewMockForTests() }
