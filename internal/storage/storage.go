// Package storage talks to the storage cluster's management REST API to
// clone, resize, copy, snapshot and delete block images.
package storage

import (
	"context"
	"fmt"
	"strings"
)

// ImageSpec names a block image as pool/name.
type ImageSpec struct {
	Pool string
	Name string
}

func (s ImageSpec) String() string {
	return s.Pool + "/" + s.Name
}

// ParseImageSpec splits a pool/name location.
func ParseImageSpec(location string) (ImageSpec, error) {
	pool, name, ok := strings.Cut(location, "/")
	if !ok || pool == "" || name == "" || strings.Contains(name, "/") {
		return ImageSpec{}, fmt.Errorf("invalid image location %q: expected pool/name", location)
	}
	return ImageSpec{Pool: pool, Name: name}, nil
}

// Backend is the set of storage operations used by the disk and image
// workflows. Every call addresses the cluster by its management address.
type Backend interface {
	// Clone creates child from the protected snapshot snap of parent.
	Clone(ctx context.Context, cluster string, parent ImageSpec, snap string, child ImageSpec) error
	// Flatten detaches img from its parent snapshot.
	Flatten(ctx context.Context, cluster string, img ImageSpec) error
	// Resize sets the size of img in bytes.
	Resize(ctx context.Context, cluster string, img ImageSpec, sizeBytes int64) error
	// Copy duplicates src into dst.
	Copy(ctx context.Context, cluster string, src, dst ImageSpec) error
	CreateSnapshot(ctx context.Context, cluster string, img ImageSpec, snap string) error
	SetSnapshotProtection(ctx context.Context, cluster string, img ImageSpec, snap string, protected bool) error
	DeleteSnapshot(ctx context.Context, cluster string, img ImageSpec, snap string) error
	DeleteImage(ctx context.Context, cluster string, img ImageSpec) error
}

// APIError is returned for non-2xx responses from the storage API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage %s: status %d: %s", e.Op, e.Status, e.Body)
}
