package oci

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projecteru2/pupa/config"
	"github.com/projecteru2/pupa/images"
)

func testConf(t *testing.T) *config.Config {
	conf := config.DefaultConfig()
	conf.RootDir = t.TempDir()
	require.NoError(t, conf.EnsureOCIDirs())
	return conf
}

func newIndex() *imageIndex {
	idx := &imageIndex{}
	idx.Init()
	return idx
}

func TestLookupNormalizesReference(t *testing.T) {
	idx := newIndex()
	idx.Images["docker.io/library/ubuntu:24.04"] = &imageEntry{
		Ref:            "docker.io/library/ubuntu:24.04",
		ManifestDigest: images.NewDigest("aaaa"),
	}

	ref, entry, ok := idx.Lookup("ubuntu:24.04")
	require.True(t, ok)
	assert.Equal(t, "docker.io/library/ubuntu:24.04", ref)
	assert.Equal(t, images.NewDigest("aaaa"), entry.ManifestDigest)

	_, _, ok = idx.Lookup("ubuntu:25.04")
	assert.False(t, ok)
}

func TestLookupByManifestDigest(t *testing.T) {
	idx := newIndex()
	idx.Images["example.com/img:v1"] = &imageEntry{
		Ref:            "example.com/img:v1",
		ManifestDigest: images.NewDigest("beef"),
	}

	ref, _, ok := idx.Lookup("sha256:beef")
	require.True(t, ok)
	assert.Equal(t, "example.com/img:v1", ref)
}

func TestReferencedDigestsCoversBootLayers(t *testing.T) {
	idx := newIndex()
	idx.Images["a"] = &imageEntry{
		Layers:      []layerEntry{{Digest: images.NewDigest("111")}},
		KernelLayer: images.NewDigest("222"),
		InitrdLayer: images.NewDigest("333"),
	}
	idx.Images["b"] = &imageEntry{
		Layers:      []layerEntry{{Digest: images.NewDigest("111")}},
		KernelLayer: images.NewDigest("444"),
	}

	refs := idx.referencedDigests()
	assert.Equal(t, map[string]struct{}{
		"111": {}, "222": {}, "333": {}, "444": {},
	}, refs)
}

func writeTar(t *testing.T, entries map[string]string) *bytes.Buffer {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Typeflag: tar.TypeReg,
			Size:     int64(len(content)),
			Mode:     0o644,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestScanBootArtifactsExtracts(t *testing.T) {
	dir := t.TempDir()
	src := writeTar(t, map[string]string{
		"boot/vmlinux-6.1":    "KERNEL",
		"boot/initrd.img-6.1": "INITRD",
		"rootfs.ext4":         "ROOTFS",
		"etc/hostname":        "ignored",
	})

	kernel, initrd, rootfs, err := scanBootArtifacts(context.Background(), src, dir, "d1")
	require.NoError(t, err)

	data, err := os.ReadFile(kernel)
	require.NoError(t, err)
	assert.Equal(t, "KERNEL", string(data))

	data, err = os.ReadFile(initrd)
	require.NoError(t, err)
	assert.Equal(t, "INITRD", string(data))

	data, err = os.ReadFile(rootfs)
	require.NoError(t, err)
	assert.Equal(t, "ROOTFS", string(data))
}

func TestScanBootArtifactsSkipsOldAndNested(t *testing.T) {
	dir := t.TempDir()
	src := writeTar(t, map[string]string{
		"boot/vmlinux.old":       "stale",
		"usr/lib/vmlinux-extra":  "too deep",
		"data/images/disk.ext4":  "too deep",
		"boot/initrd.img-hw.old": "stale",
	})

	kernel, initrd, rootfs, err := scanBootArtifacts(context.Background(), src, dir, "d2")
	require.NoError(t, err)
	assert.Empty(t, kernel)
	assert.Empty(t, initrd)
	assert.Empty(t, rootfs)
}

func TestCommitAndRecordMovesArtifacts(t *testing.T) {
	conf := testConf(t)
	work := t.TempDir()

	mkFile := func(name, content string) string {
		path := filepath.Join(work, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	results := []pullLayerResult{
		{
			index:      0,
			digest:     images.NewDigest("aaa"),
			rootfsPath: mkFile("aaa.ext4", "ROOTFS"),
			kernelPath: mkFile("aaa.vmlinux", "KERNEL"),
			initrdPath: mkFile("aaa.initrd.img", "INITRD"),
		},
	}

	idx := newIndex()
	require.NoError(t, commitAndRecord(conf, idx, "example.com/img:v1", images.NewDigest("m1"), results))

	entry := idx.Images["example.com/img:v1"]
	require.NotNil(t, entry)
	assert.Equal(t, images.NewDigest("m1"), entry.ManifestDigest)
	assert.Equal(t, images.NewDigest("aaa"), entry.KernelLayer)
	assert.Equal(t, images.NewDigest("aaa"), entry.InitrdLayer)
	require.Len(t, entry.Layers, 1)

	assert.FileExists(t, conf.BlobPath("aaa"))
	assert.FileExists(t, conf.KernelPath("aaa"))
	assert.FileExists(t, conf.InitrdPath("aaa"))
	assert.WithinDuration(t, time.Now(), entry.CreatedAt, time.Minute)
}

func TestCommitAndRecordRequiresKernelAndRootfs(t *testing.T) {
	conf := testConf(t)
	work := t.TempDir()

	rootfs := filepath.Join(work, "bbb.ext4")
	require.NoError(t, os.WriteFile(rootfs, []byte("ROOTFS"), 0o644))

	err := commitAndRecord(conf, newIndex(), "img", images.NewDigest("m2"), []pullLayerResult{
		{index: 0, digest: images.NewDigest("bbb"), rootfsPath: rootfs},
	})
	require.ErrorContains(t, err, "missing kernel")

	err = commitAndRecord(conf, newIndex(), "img", images.NewDigest("m3"), nil)
	require.ErrorContains(t, err, "no ext4 root filesystem")
}

func TestGCResolveHonorsPins(t *testing.T) {
	conf := testConf(t)
	o := &OCI{conf: conf}

	snap := ociSnapshot{
		refs:     map[string]struct{}{"kept": {}},
		blobs:    []string{"kept", "pinned", "orphan"},
		bootDirs: []string{"kept", "orphan"},
	}
	others := map[string]any{
		"firecracker": fakePinSnap{ids: map[string]struct{}{"pinned": {}}},
	}

	got := o.GCModule().Resolve(snap, others)
	assert.ElementsMatch(t, []string{"orphan"}, got)
}

type fakePinSnap struct {
	ids map[string]struct{}
}

func (f fakePinSnap) UsedBlobIDs() map[string]struct{} { return f.ids }
