package app

import (
	"context"

	"github.com/pixelbase/pixelbase-backend/internal/ml"
	"github.com/pixelbase/pixelbase-backend/internal/platform/gcs"
	"github.com/pixelbase/pixelbase-backend/internal/platform/logger"
	"github.com/pixelbase/pixelbase-backend/internal/platform/qdrant"
	"github.com/pixelbase/pixelbase-backend/internal/realtime"
)

type Clients struct {
	Bucket    gcs.BucketService
	Index     qdrant.Index
	Encoder   ml.Encoder
	Captioner ml.Captioner
	Keyframer ml.Keyframer
	Bus       realtime.Bus
}

func wireClients(ctx context.Context, cfg Config, log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	bucket, err := gcs.NewBucketService(log)
	if err != nil {
		return Clients{}, err
	}

	index, err := qdrant.NewIndex(cfg.Qdrant, log)
	if err != nil {
		return Clients{}, err
	}
	if err := index.EnsureCollections(ctx); err != nil {
		log.Warn("Qdrant collection bootstrap failed (continuing)", "error", err)
	}

	encoder, err := ml.NewEncoder(cfg.ML, log)
	if err != nil {
		return Clients{}, err
	}
	captioner, err := ml.NewCaptioner(cfg.ML, log)
	if err != nil {
		return Clients{}, err
	}
	keyframer, err := ml.NewKeyframer(cfg.ML, log)
	if err != nil {
		return Clients{}, err
	}

	// Redis fans events out across instances; a single instance runs
	// fine on the in-process bus.
	bus, err := realtime.NewRedisBus(ctx, log)
	if err != nil {
		log.Warn("Redis unavailable; realtime events stay instance-local", "error", err)
		bus = realtime.NewLocalBus()
	}

	return Clients{
		Bucket:    bucket,
		Index:     index,
		Encoder:   encoder,
		Captioner: captioner,
		Keyframer: keyframer,
		Bus:       bus,
	}, nil
}
