package oci

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/panjf2000/ants/v2"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/images"
	"github.com/projecteru2/pupa/progress"
	ociProgress "github.com/projecteru2/pupa/progress/oci"
	"github.com/projecteru2/pupa/storage"
	"github.com/projecteru2/pupa/utils"
)

// pullLayerResult holds the output of processing a single layer.
type pullLayerResult struct {
	index      int
	digest     images.Digest
	rootfsPath string // non-empty if this layer contains an ext4 root filesystem
	kernelPath string // non-empty if this layer contains a vmlinux
	initrdPath string // non-empty if this layer contains an initrd
}

// pull downloads an OCI image and extracts firecracker boot artifacts from
// its layers concurrently on the ants pool.
func pull(ctx context.Context, conf *config.Config, pool *ants.Pool, store storage.Store[imageIndex], imageRef string, tracker progress.Tracker) error {
	logger := log.WithFunc("oci.pull")

	ref, digestHex, workDir, results, err := fetchAndProcess(ctx, conf, pool, store, imageRef, tracker)
	if err != nil {
		return err
	}
	if results == nil {
		logger.Infof(ctx, "Already up to date: %s (digest: sha256:%s)", ref, digestHex)
		return nil
	}
	defer os.RemoveAll(workDir) //nolint:errcheck

	// Commit artifacts and update the index atomically under flock.
	// fetchAndProcess proceeds even when the digest matches but local files
	// are invalid, so commitAndRecord always runs to move repaired artifacts
	// into place. It is idempotent, renames are skipped when src == dst.
	tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhaseCommit, Index: -1, Total: len(results)})
	manifestDigest := images.NewDigest(digestHex)
	if err := store.Update(ctx, func(idx *imageIndex) error {
		return commitAndRecord(conf, idx, ref, manifestDigest, results)
	}); err != nil {
		return fmt.Errorf("update image index: %w", err)
	}

	tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhaseDone, Index: -1, Total: len(results)})
	logger.Infof(ctx, "Pulled: %s (digest: sha256:%s, layers: %d)", ref, digestHex, len(results))
	return nil
}

// fetchAndProcess downloads the image and processes all layers concurrently.
// Returns nil results when the image is already up to date. The caller owns
// workDir cleanup via the returned path (empty when up to date).
func fetchAndProcess(ctx context.Context, conf *config.Config, pool *ants.Pool, store storage.Store[imageIndex], imageRef string, tracker progress.Tracker) (ref, digestHex, workDir string, results []pullLayerResult, err error) {
	logger := log.WithFunc("oci.pull")

	parsedRef, parseErr := name.ParseReference(imageRef)
	if parseErr != nil {
		return "", "", "", nil, fmt.Errorf("invalid image reference %q: %w", imageRef, parseErr)
	}
	ref = parsedRef.String()

	platform := v1.Platform{
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
	}

	logger.Infof(ctx, "Pulling image: %s", ref)

	img, fetchErr := remote.Image(parsedRef,
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithContext(ctx),
		remote.WithPlatform(platform),
	)
	if fetchErr != nil {
		return "", "", "", nil, fmt.Errorf("fetch image %s: %w", ref, fetchErr)
	}

	manifest, digestErr := img.Digest()
	if digestErr != nil {
		return "", "", "", nil, fmt.Errorf("get manifest digest: %w", digestErr)
	}
	digestHex = manifest.Hex

	// Idempotency: skip everything when the same manifest is recorded and
	// all files are intact. Boot layer digests from ALL entries are collected
	// so processLayer can target self-heal even when the boot directory has
	// been entirely deleted.
	var alreadyPulled bool
	knownBootHexes := make(map[string]struct{})
	if withErr := store.With(ctx, func(idx *imageIndex) error {
		for _, e := range idx.Images {
			if e == nil {
				continue
			}
			if e.KernelLayer != "" {
				knownBootHexes[e.KernelLayer.Hex()] = struct{}{}
			}
			if e.InitrdLayer != "" {
				knownBootHexes[e.InitrdLayer.Hex()] = struct{}{}
			}
		}

		entry, ok := idx.Images[ref]
		if !ok || entry == nil || entry.ManifestDigest != images.NewDigest(digestHex) {
			return nil
		}
		if !utils.ValidFile(conf.KernelPath(entry.KernelLayer.Hex())) {
			return nil
		}
		if entry.InitrdLayer != "" && !utils.ValidFile(conf.InitrdPath(entry.InitrdLayer.Hex())) {
			return nil
		}
		for _, layer := range entry.Layers {
			if !utils.ValidFile(conf.BlobPath(layer.Digest.Hex())) {
				return nil
			}
		}
		alreadyPulled = true
		return nil
	}); withErr != nil {
		return "", "", "", nil, fmt.Errorf("read image index: %w", withErr)
	}
	if alreadyPulled {
		return ref, digestHex, "", nil, nil
	}

	layers, layersErr := img.Layers()
	if layersErr != nil {
		return "", "", "", nil, fmt.Errorf("get layers: %w", layersErr)
	}
	if len(layers) == 0 {
		return "", "", "", nil, fmt.Errorf("image %s has no layers", ref)
	}

	tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhasePull, Index: -1, Total: len(layers)})

	workDir, mkErr := os.MkdirTemp(conf.OCITempDir(), "pull-*")
	if mkErr != nil {
		return "", "", "", nil, fmt.Errorf("create work dir: %w", mkErr)
	}

	// Process layers concurrently on the shared pool.
	results = make([]pullLayerResult, len(layers))
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	totalLayers := len(layers)
	for i, layer := range layers {
		wg.Add(1)
		layerIdx := i
		layerRef := layer

		submitErr := pool.Submit(func() {
			defer wg.Done()

			if err := processLayer(ctx, conf, layerIdx, totalLayers, layerRef, workDir, knownBootHexes, tracker, &results[layerIdx]); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("layer %d: %w", layerIdx, err))
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, fmt.Errorf("submit layer %d: %w", layerIdx, submitErr))
			mu.Unlock()
		}
	}

	wg.Wait()

	if len(errs) > 0 {
		os.RemoveAll(workDir) //nolint:errcheck
		return "", "", "", nil, fmt.Errorf("process layers: %v", errs)
	}
	if ctx.Err() != nil {
		os.RemoveAll(workDir) //nolint:errcheck
		return "", "", "", nil, ctx.Err()
	}

	return ref, digestHex, workDir, results, nil
}

// commitAndRecord moves artifacts to shared image paths and records the image
// entry. Must be called under flock (inside store.Update).
func commitAndRecord(conf *config.Config, idx *imageIndex, ref string, manifestDigest images.Digest, results []pullLayerResult) error {
	var (
		layerEntries []layerEntry
		kernelLayer  images.Digest
		initrdLayer  images.Digest
	)

	for i := range results {
		r := &results[i]
		hex := r.digest.Hex()

		if r.rootfsPath != "" {
			if r.rootfsPath != conf.BlobPath(hex) {
				if err := os.Rename(r.rootfsPath, conf.BlobPath(hex)); err != nil {
					return fmt.Errorf("move layer %d rootfs: %w", r.index, err)
				}
			}
			layerEntries = append(layerEntries, layerEntry{Digest: r.digest})
		}

		if r.kernelPath != "" && r.kernelPath != conf.KernelPath(hex) {
			if err := os.MkdirAll(conf.BootDir(hex), 0o750); err != nil {
				return fmt.Errorf("create boot dir for layer %d: %w", r.index, err)
			}
			if err := os.Rename(r.kernelPath, conf.KernelPath(hex)); err != nil {
				return fmt.Errorf("move layer %d kernel: %w", r.index, err)
			}
		}
		if r.initrdPath != "" && r.initrdPath != conf.InitrdPath(hex) {
			if err := os.MkdirAll(conf.BootDir(hex), 0o750); err != nil {
				return fmt.Errorf("create boot dir for layer %d: %w", r.index, err)
			}
			if err := os.Rename(r.initrdPath, conf.InitrdPath(hex)); err != nil {
				return fmt.Errorf("move layer %d initrd: %w", r.index, err)
			}
		}

		// Later layers win per OCI ordering.
		if r.kernelPath != "" {
			kernelLayer = r.digest
		}
		if r.initrdPath != "" {
			initrdLayer = r.digest
		}
	}

	if len(layerEntries) == 0 {
		return fmt.Errorf("image %s has no ext4 root filesystem", ref)
	}
	if kernelLayer == "" {
		return fmt.Errorf("image %s missing kernel (vmlinux)", ref)
	}

	// Final validation under flock. Guards against concurrent GC deleting
	// cached artifacts between processLayer (no flock) and this point.
	for _, le := range layerEntries {
		if !utils.ValidFile(conf.BlobPath(le.Digest.Hex())) {
			return fmt.Errorf("blob missing for layer %s (concurrent GC?)", le.Digest)
		}
	}
	if !utils.ValidFile(conf.KernelPath(kernelLayer.Hex())) {
		return fmt.Errorf("kernel missing for %s (concurrent GC?)", kernelLayer)
	}
	if initrdLayer != "" && !utils.ValidFile(conf.InitrdPath(initrdLayer.Hex())) {
		return fmt.Errorf("initrd missing for %s (concurrent GC?)", initrdLayer)
	}

	idx.Images[ref] = &imageEntry{
		Ref:            ref,
		ManifestDigest: manifestDigest,
		Layers:         layerEntries,
		KernelLayer:    kernelLayer,
		InitrdLayer:    initrdLayer,
		CreatedAt:      time.Now().UTC(),
	}
	return nil
}

// processLayer handles a single layer: streams the uncompressed tar once and
// extracts boot artifacts. A layer whose rootfs blob is already cached is
// only re-streamed when boot files are missing and there is evidence the
// layer carried them (existing boot file, boot dir on disk, or the index
// records the digest as a boot layer).
func processLayer(ctx context.Context, conf *config.Config, idx, total int, layer v1.Layer, workDir string, knownBootHexes map[string]struct{}, tracker progress.Tracker, result *pullLayerResult) error {
	logger := log.WithFunc("oci.processLayer")

	layerDigest, err := layer.Digest()
	if err != nil {
		return fmt.Errorf("get digest: %w", err)
	}
	digestHex := layerDigest.Hex

	result.index = idx
	result.digest = images.NewDigest(digestHex)

	cached := utils.ValidFile(conf.BlobPath(digestHex))
	if cached {
		result.rootfsPath = conf.BlobPath(digestHex)
		if utils.ValidFile(conf.KernelPath(digestHex)) {
			result.kernelPath = conf.KernelPath(digestHex)
		}
		if utils.ValidFile(conf.InitrdPath(digestHex)) {
			result.initrdPath = conf.InitrdPath(digestHex)
		}

		hasBootEvidence := result.kernelPath != "" || result.initrdPath != ""
		if !hasBootEvidence {
			_, statErr := os.Stat(conf.BootDir(digestHex))
			hasBootEvidence = statErr == nil
		}
		if !hasBootEvidence {
			_, hasBootEvidence = knownBootHexes[digestHex]
		}
		if !hasBootEvidence || (result.kernelPath != "" && result.initrdPath != "") {
			logger.Infof(ctx, "Layer %d: sha256:%s already cached", idx, digestHex[:12])
			tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhaseLayer, Index: idx, Total: total, Digest: digestHex[:12]})
			return nil
		}
		logger.Warnf(ctx, "Layer %d: sha256:%s attempting boot file recovery", idx, digestHex[:12])
	}

	layerDir := filepath.Join(workDir, fmt.Sprintf("layer-%d", idx))
	if err := os.MkdirAll(layerDir, 0o750); err != nil {
		return fmt.Errorf("create layer work dir: %w", err)
	}

	rc, err := layer.Uncompressed()
	if err != nil {
		return fmt.Errorf("open uncompressed layer: %w", err)
	}
	defer rc.Close() //nolint:errcheck

	kernelPath, initrdPath, rootfsPath, scanErr := scanBootArtifacts(ctx, rc, layerDir, digestHex)
	if scanErr != nil {
		if cached {
			// Recovery is best effort, the cached blob is still usable.
			logger.Warnf(ctx, "Layer %d: boot file recovery failed: %v", idx, scanErr)
			tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhaseLayer, Index: idx, Total: total, Digest: digestHex[:12]})
			return nil
		}
		return fmt.Errorf("scan boot artifacts: %w", scanErr)
	}

	if result.kernelPath == "" {
		result.kernelPath = kernelPath
	}
	if result.initrdPath == "" {
		result.initrdPath = initrdPath
	}
	if result.rootfsPath == "" {
		result.rootfsPath = rootfsPath
	}
	tracker.OnEvent(ociProgress.Event{Phase: ociProgress.PhaseLayer, Index: idx, Total: total, Digest: digestHex[:12]})
	return nil
}

// scanBootArtifacts reads a tar stream and extracts kernel, initrd and ext4
// rootfs files. Only regular files at the top level or under boot/ are
// considered; .old variants are skipped. Files are written to workDir with
// digest-based names.
func scanBootArtifacts(ctx context.Context, r io.Reader, workDir, digestHex string) (kernelPath, initrdPath, rootfsPath string, err error) {
	logger := log.WithFunc("oci.scanBootArtifacts")

	tr := tar.NewReader(r)
	for {
		hdr, readErr := tr.Next()
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return "", "", "", fmt.Errorf("read tar entry: %w", readErr)
		}

		// Regular files only (TypeReg and deprecated TypeRegA '\x00').
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != '\x00' {
			continue
		}

		entryName := filepath.Clean(hdr.Name)
		base := filepath.Base(entryName)

		if strings.HasSuffix(base, ".old") {
			continue
		}

		isKernel := strings.HasPrefix(base, "vmlinux")
		isInitrd := strings.HasPrefix(base, "initrd.img")
		isRootfs := strings.HasSuffix(base, ".ext4")
		if !isKernel && !isInitrd && !isRootfs {
			continue
		}

		dir := filepath.Dir(entryName)
		if dir != "boot" && dir != "." {
			continue
		}

		var dstPath string
		switch {
		case isKernel:
			dstPath = filepath.Join(workDir, digestHex+".vmlinux")
		case isInitrd:
			dstPath = filepath.Join(workDir, digestHex+".initrd.img")
		default:
			dstPath = filepath.Join(workDir, digestHex+".ext4")
		}

		f, createErr := os.Create(dstPath) //nolint:gosec // internal temp file
		if createErr != nil {
			return "", "", "", fmt.Errorf("create %s: %w", filepath.Base(dstPath), createErr)
		}
		if _, copyErr := io.Copy(f, tr); copyErr != nil {
			_ = f.Close()
			return "", "", "", fmt.Errorf("write %s: %w", filepath.Base(dstPath), copyErr)
		}
		_ = f.Close()

		switch {
		case isKernel:
			kernelPath = dstPath
		case isInitrd:
			initrdPath = dstPath
		default:
			rootfsPath = dstPath
		}
		logger.Infof(ctx, "Layer %s: extracted %s", digestHex[:12], base)
	}
	return kernelPath, initrdPath, rootfsPath, nil
}
