package oci

import (
	"time"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/projecteru2/pupa/images"
)

// imageIndex is the top-level structure of the OCI images.json file.
type imageIndex struct {
	Images map[string]*imageEntry `json:"images"`
}

// Init satisfies storage.Initer so a fresh index loads usable.
func (idx *imageIndex) Init() {
	if idx.Images == nil {
		idx.Images = make(map[string]*imageEntry)
	}
}

// Lookup finds an image entry by ref (exact or normalized) or manifest
// digest. Returns the ref key, the entry, and whether it was found.
func (idx *imageIndex) Lookup(id string) (string, *imageEntry, bool) {
	if entry, ok := idx.Images[id]; ok && entry != nil {
		return id, entry, true
	}
	// Normalize as an image reference, "ubuntu:24.04" matches
	// "docker.io/library/ubuntu:24.04".
	if parsed, err := name.ParseReference(id); err == nil {
		normalized := parsed.String()
		if entry, ok := idx.Images[normalized]; ok && entry != nil {
			return normalized, entry, true
		}
	}
	for ref, entry := range idx.Images {
		if entry != nil && entry.ManifestDigest.String() == id {
			return ref, entry, true
		}
	}
	return "", nil, false
}

// referencedDigests returns every layer digest hex referenced by any entry,
// boot layers included. Used by GC to decide what stays on disk.
func (idx *imageIndex) referencedDigests() map[string]struct{} {
	refs := make(map[string]struct{})
	for _, e := range idx.Images {
		if e == nil {
			continue
		}
		for _, l := range e.Layers {
			refs[l.Digest.Hex()] = struct{}{}
		}
		if e.KernelLayer != "" {
			refs[e.KernelLayer.Hex()] = struct{}{}
		}
		if e.InitrdLayer != "" {
			refs[e.InitrdLayer.Hex()] = struct{}{}
		}
	}
	return refs
}

// imageEntry records one pulled OCI image. Paths are not stored; they are
// derived from digests and config at runtime.
type imageEntry struct {
	Ref            string        `json:"ref"`
	ManifestDigest images.Digest `json:"manifest_digest"`
	Layers         []layerEntry  `json:"layers"`
	KernelLayer    images.Digest `json:"kernel_layer"` // layer containing vmlinux
	InitrdLayer    images.Digest `json:"initrd_layer"` // layer containing initrd.img
	CreatedAt      time.Time     `json:"created_at"`
}

// layerEntry records one layer that yielded a root filesystem blob.
type layerEntry struct {
	Digest images.Digest `json:"digest"`
}
