// Package oci implements the images.Images interface on top of OCI container
// registries. Image layers are scanned for firecracker boot artifacts, an
// uncompressed vmlinux, an optional initrd.img, and ext4 root filesystem
// blobs, which are cached content-addressed on the host.
package oci

import (
	"context"
	"fmt"
	"os"

	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/images"
	"github.com/projecteru2/pupa/lock"
	"github.com/projecteru2/pupa/progress"
	"github.com/projecteru2/pupa/storage"
	"github.com/projecteru2/pupa/types"
	"github.com/projecteru2/pupa/utils"
)

const typ = "oci"

var _ images.Images = (*OCI)(nil)

// OCI is the registry-backed image backend.
type OCI struct {
	conf   *config.Config
	pool   *ants.Pool
	store  storage.Store[imageIndex]
	locker lock.Locker
}

// New creates an OCI image backend with an ants goroutine pool for layer
// processing.
func New(ctx context.Context, conf *config.Config) (*OCI, error) {
	if err := conf.EnsureOCIDirs(); err != nil {
		return nil, fmt.Errorf("ensure dirs: %w", err)
	}

	pool, err := ants.NewPool(conf.PoolSize)
	if err != nil {
		return nil, fmt.Errorf("create ants pool: %w", err)
	}

	store, locker := images.NewStore[imageIndex](conf.OCIIndexFile(), conf.OCIIndexLock())

	log.WithFunc("oci.New").Infof(ctx, "OCI image backend initialized, pool size: %d", conf.PoolSize)

	return &OCI{
		conf:   conf,
		pool:   pool,
		store:  store,
		locker: locker,
	}, nil
}

// Close releases the goroutine pool.
func (o *OCI) Close() {
	if o.pool != nil {
		o.pool.Release()
	}
}

func (o *OCI) Type() string {
	return typ
}

// Pull downloads an OCI image, extracts boot artifacts from its layers
// concurrently and records the image in the index.
func (o *OCI) Pull(ctx context.Context, image string, tracker progress.Tracker) error {
	return pull(ctx, o.conf, o.pool, o.store, image, tracker)
}

// List returns all locally recorded images with their on-disk sizes.
func (o *OCI) List(ctx context.Context) (result []*types.Image, err error) {
	err = o.store.With(ctx, func(idx *imageIndex) error {
		for _, entry := range idx.Images {
			var totalSize int64
			for _, layer := range entry.Layers {
				if info, statErr := os.Stat(o.conf.BlobPath(layer.Digest.Hex())); statErr == nil {
					totalSize += info.Size()
				}
			}
			if entry.KernelLayer != "" {
				if info, statErr := os.Stat(o.conf.KernelPath(entry.KernelLayer.Hex())); statErr == nil {
					totalSize += info.Size()
				}
			}
			if entry.InitrdLayer != "" {
				if info, statErr := os.Stat(o.conf.InitrdPath(entry.InitrdLayer.Hex())); statErr == nil {
					totalSize += info.Size()
				}
			}
			result = append(result, &types.Image{
				ID:        entry.ManifestDigest.String(),
				Name:      entry.Ref,
				Type:      typ,
				Size:      totalSize,
				CreatedAt: entry.CreatedAt,
			})
		}
		return nil
	})
	return
}

// Delete removes images from the index and returns the refs actually
// deleted. Unknown ids are logged and skipped. Blobs stay on disk until GC
// confirms nothing else references them.
func (o *OCI) Delete(ctx context.Context, ids []string) ([]string, error) {
	logger := log.WithFunc("oci.Delete")
	var deleted []string
	return deleted, o.store.Update(ctx, func(idx *imageIndex) error {
		for _, id := range ids {
			ref, _, ok := idx.Lookup(id)
			if !ok {
				logger.Infof(ctx, "image %q not found, skipping", id)
				continue
			}
			delete(idx.Images, ref)
			deleted = append(deleted, ref)
			logger.Infof(ctx, "Deleted from index: %s", ref)
		}
		return nil
	})
}

// Config resolves each VM's image reference into per-VM storage and boot
// configuration. Returns an error when a referenced blob or boot file is
// missing on disk.
func (o *OCI) Config(ctx context.Context, vms []*types.VMConfig) (result [][]*types.StorageConfig, boot []*types.BootConfig, err error) {
	err = o.store.With(ctx, func(idx *imageIndex) error {
		result = make([][]*types.StorageConfig, len(vms))
		boot = make([]*types.BootConfig, len(vms))
		for i, vm := range vms {
			_, entry, ok := idx.Lookup(vm.Image)
			if !ok {
				return fmt.Errorf("image %q not found for VM %s", vm.Image, vm.Name)
			}

			var configs []*types.StorageConfig
			for j, layer := range entry.Layers {
				blobPath := o.conf.BlobPath(layer.Digest.Hex())
				if !utils.ValidFile(blobPath) {
					return fmt.Errorf("blob invalid for VM %s layer %d (%s)", vm.Name, j, layer.Digest)
				}
				configs = append(configs, &types.StorageConfig{
					Path: blobPath,
					RO:   true,
				})
			}
			result[i] = configs

			kernelPath := o.conf.KernelPath(entry.KernelLayer.Hex())
			if !utils.ValidFile(kernelPath) {
				return fmt.Errorf("kernel invalid for VM %s (%s)", vm.Name, entry.KernelLayer)
			}
			bc := &types.BootConfig{KernelPath: kernelPath}
			if entry.InitrdLayer != "" {
				initrdPath := o.conf.InitrdPath(entry.InitrdLayer.Hex())
				if !utils.ValidFile(initrdPath) {
					return fmt.Errorf("initrd invalid for VM %s (%s)", vm.Name, entry.InitrdLayer)
				}
				bc.InitrdPath = initrdPath
			}
			boot[i] = bc
		}
		return nil
	})
	return
}
