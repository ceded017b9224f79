//go:build linux

package sys

import (
	"context"
	"fmt"
	"regexp"

	"github.com/canonical/vold/vold/volume"
)

var blkidTagRegex = regexp.MustCompile(`([A-Z_]+)="([^"]*)"`)

// ReadMetadataUntrusted probes devPath with blkid running in the untrusted context.
func (o *OS) ReadMetadataUntrusted(ctx context.Context, devPath string) (volume.Metadata, error) {
	out, err := o.opts.Run(ctx, o.opts.BlkidContext, o.opts.BlkidPath, "-c", "/dev/null", "-s", "TYPE", "-s", "UUID", "-s", "LABEL", devPath)
	if err != nil {
		return volume.Metadata{}, fmt.Errorf("Failed probing %q: %w", devPath, err)
	}

	return parseBlkid(out), nil
}

func parseBlkid(out string) volume.Metadata {
	var metadata volume.Metadata

	for _, match := range blkidTagRegex.FindAllStringSubmatch(out, -1) {
		switch match[1] {
		case "TYPE":
			metadata.FsType = match[2]
		case "UUID":
			metadata.FsUUID = match[2]
		case "LABEL":
			metadata.FsLabel = match[2]
		}
	}

	return metadata
}
