// Package recsync rebuilds catalog state from recording files on disk:
// it adopts orphaned files, completes rows left open by a crash, and
// creates disabled stream rows for unknown stream names.
package recsync

import (
	"fmt"
	"os"
	"time"

	gomp4 "github.com/abema/go-mp4"
)

// ProbeDuration reads a recording's MP4 box structure and computes its
// media duration. Plain files report through mvhd; fragmented files sum
// trun sample durations for the video track.
func ProbeDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening recording: %w", err)
	}
	defer f.Close()

	var (
		mvhdDuration  uint64
		mvhdTimescale uint32
		mdhdTimescale uint32
		currentTrack  uint32
		defaultDur    uint32
		fragTicks     uint64
	)

	_, err = gomp4.ReadBoxStructure(f, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(),
			gomp4.BoxTypeMoof(), gomp4.BoxTypeTraf():
			return h.Expand()

		case gomp4.BoxTypeMvhd():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mvhd := payload.(*gomp4.Mvhd)
			mvhdTimescale = mvhd.Timescale
			if mvhd.Version == 0 {
				mvhdDuration = uint64(mvhd.DurationV0)
			} else {
				mvhdDuration = mvhd.DurationV1
			}

		case gomp4.BoxTypeMdhd():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			mdhd := payload.(*gomp4.Mdhd)
			if mdhdTimescale == 0 {
				mdhdTimescale = mdhd.Timescale
			}

		case gomp4.BoxTypeTfhd():
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			tfhd := payload.(*gomp4.Tfhd)
			currentTrack = tfhd.TrackID
			defaultDur = tfhd.DefaultSampleDuration

		case gomp4.BoxTypeTrun():
			if currentTrack != 1 {
				return nil, nil
			}
			payload, _, err := h.ReadPayload()
			if err != nil {
				return nil, err
			}
			trun := payload.(*gomp4.Trun)
			if len(trun.Entries) > 0 {
				perSample := false
				for _, entry := range trun.Entries {
					if entry.SampleDuration > 0 {
						perSample = true
						fragTicks += uint64(entry.SampleDuration)
					}
				}
				if !perSample {
					fragTicks += uint64(trun.SampleCount) * uint64(defaultDur)
				}
			} else {
				fragTicks += uint64(trun.SampleCount) * uint64(defaultDur)
			}
		}
		return nil, nil
	})
	if err != nil {
		return 0, fmt.Errorf("reading box structure: %w", err)
	}

	if mvhdDuration > 0 && mvhdTimescale > 0 {
		return time.Duration(mvhdDuration) * time.Second / time.Duration(mvhdTimescale), nil
	}
	if fragTicks > 0 && mdhdTimescale > 0 {
		return time.Duration(fragTicks) * time.Second / time.Duration(mdhdTimescale), nil
	}
	return 0, fmt.Errorf("file carries no duration information")
}
