package image

import (
	"archive/tar"
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kilnworks/kiln/internal/paths"
	"github.com/kilnworks/kiln/internal/snapshot"
)

// Filename of the OCI archive produced by Export.
const exportFilename = "image.tar"

// Tar timestamps are pinned to the epoch so equal snapshots always export
// byte-identical archives.
var epoch = time.Unix(0, 0)

// The immutable deliverable produced by a finalized build.
type Artifact struct {
	Path   string              // Location of the OCI archive.
	Digest digest.Digest       // Digest of the image manifest.
	Config ocispec.ImageConfig // Runtime metadata baked into the image.
}

// Assembles the final snapshot and runtime metadata into an OCI archive.
//
// The snapshot becomes a single uncompressed layer, the metadata becomes
// the image config, and both are referenced by a manifest and a one-entry
// index tagged with ref. The archive is written to output/image.tar.
// Fails with [ErrMissingEntrypoint] when no entrypoint operation ever
// executed on the finalized stage.
func Export(store snapshot.Store, snap snapshot.Snapshot, cfg ocispec.ImageConfig, ref, output string) (*Artifact, error) {
	if len(cfg.Entrypoint) == 0 {
		return nil, fmt.Errorf("%w: stage %q never set one", ErrMissingEntrypoint, ref)
	}

	layer, diffID, err := buildLayer(store, snap)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	config := ocispec.Image{
		Platform: ocispec.Platform{
			OS:           "linux",
			Architecture: goruntime.GOARCH,
		},
		Config: cfg,
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: []digest.Digest{diffID},
		},
	}
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    describe(ocispec.MediaTypeImageConfig, configJSON),
		Layers:    []ocispec.Descriptor{describe(ocispec.MediaTypeImageLayer, layer)},
	}
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	manifestDesc := describe(ocispec.MediaTypeImageManifest, manifestJSON)
	manifestDesc.Annotations = map[string]string{
		ocispec.AnnotationRefName: ref,
	}

	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{manifestDesc},
	}
	indexJSON, err := json.Marshal(index)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	path := filepath.Join(output, exportFilename)
	blobs := map[digest.Digest][]byte{
		manifest.Config.Digest:    configJSON,
		manifest.Layers[0].Digest: layer,
		manifestDesc.Digest:       manifestJSON,
	}
	if err := writeArchive(path, indexJSON, blobs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	slog.Info("image exported", "path", path, "digest", manifestDesc.Digest)

	return &Artifact{
		Path:   path,
		Digest: manifestDesc.Digest,
		Config: cfg,
	}, nil
}

// Builds the layer tar for a snapshot and returns its bytes and diff ID.
//
// Entries are emitted in sorted path order with epoch timestamps, and
// parent directories are synthesized, so the layer is deterministic for a
// given snapshot.
func buildLayer(store snapshot.Store, snap snapshot.Snapshot) ([]byte, digest.Digest, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	seenDirs := make(map[string]bool)
	for _, p := range snap.Paths() {
		if err := writeParents(tw, p, seenDirs); err != nil {
			return nil, "", err
		}

		f := snap[p]
		hdr := &tar.Header{
			Name:    strings.TrimPrefix(p, "/"),
			Mode:    int64(f.Mode),
			ModTime: epoch,
		}

		if f.Link != "" {
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = f.Link
			if err := tw.WriteHeader(hdr); err != nil {
				return nil, "", err
			}
			continue
		}

		data, err := store.ReadBlob(f.Digest)
		if err != nil {
			return nil, "", err
		}
		hdr.Typeflag = tar.TypeReg
		hdr.Size = int64(len(data))
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, "", err
		}
		if _, err := tw.Write(data); err != nil {
			return nil, "", err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, "", err
	}

	layer := buf.Bytes()
	return layer, digest.FromBytes(layer), nil
}

// Emits directory entries for every ancestor of p not yet written.
func writeParents(tw *tar.Writer, p string, seen map[string]bool) error {
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	dirs := make([]string, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		if seen[dir] {
			continue
		}
		seen[dir] = true
		hdr := &tar.Header{
			Name:     dir + "/",
			Mode:     int64(paths.DefaultDirMode),
			ModTime:  epoch,
			Typeflag: tar.TypeDir,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
	}
	return nil
}

// Returns a descriptor for a serialized blob.
func describe(mediaType string, data []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}

// Writes the OCI archive: oci-layout, index.json, and the blobs directory.
func writeArchive(path string, indexJSON []byte, blobs map[digest.Digest][]byte) error {
	layout, err := json.Marshal(ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion})
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	tw := tar.NewWriter(f)

	entries := []struct {
		name string
		data []byte
	}{
		{ocispec.ImageLayoutFile, layout},
		{"index.json", indexJSON},
	}

	dgsts := make([]digest.Digest, 0, len(blobs))
	for dgst := range blobs {
		dgsts = append(dgsts, dgst)
	}
	sort.Slice(dgsts, func(i, j int) bool { return dgsts[i] < dgsts[j] })
	for _, dgst := range dgsts {
		name := filepath.ToSlash(filepath.Join("blobs", string(dgst.Algorithm()), dgst.Encoded()))
		entries = append(entries, struct {
			name string
			data []byte
		}{name, blobs[dgst]})
	}

	for _, entry := range entries {
		hdr := &tar.Header{
			Name:     entry.name,
			Mode:     int64(paths.DefaultFileMode),
			Size:     int64(len(entry.data)),
			ModTime:  epoch,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(entry.data); err != nil {
			return err
		}
	}

	return tw.Close()
}
