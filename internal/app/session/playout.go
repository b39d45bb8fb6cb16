package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dkeye/MusicParty/internal/core"
)

// playout copies RTP from the remote voice track into sink until ctx ends
// or the track stops.
func playout(ctx context.Context, src core.RemoteTrack, sink core.AudioSink, logger zerolog.Logger) {
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn().Err(err).Msg("close audio sink")
		}
	}()
	var packets int
	for {
		select {
		case <-ctx.Done():
			logger.Info().Int("packets", packets).Msg("playout ctx done")
			return
		default:
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Int("packets", packets).Msg("remote track ended")
			return
		}
		if err := sink.WriteRTP(pkt); err != nil {
			logger.Error().Err(err).Msg("audio sink write error, stopping playout")
			return
		}
		packets++
	}
}
