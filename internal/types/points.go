package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Logical vector point ids. The prefix names the embedding kind; the
// media id makes every point traceable back to its row.

func CLIPPointID(mediaID uuid.UUID) string {
	return "clip_" + mediaID.String()
}

func DINOPointID(mediaID uuid.UUID) string {
	return "dino_" + mediaID.String()
}

func CaptionPointID(mediaID uuid.UUID) string {
	return "caption_" + mediaID.String()
}

func TextChunkPointID(mediaID, sourceID uuid.UUID, chunkIdx int) string {
	return fmt.Sprintf("text_%s_%s_%d", mediaID, sourceID, chunkIdx)
}

// TextAnchorPointID is the media-level text reference stored on the
// row. It is not itself a vector point; the chunk points carry their
// source id and chunk index.
func TextAnchorPointID(mediaID uuid.UUID) string {
	return "text_" + mediaID.String()
}

// MediaIDFromPointID recovers the media id from any logical point id.
func MediaIDFromPointID(pointID string) (uuid.UUID, bool) {
	idx := strings.Index(pointID, "_")
	if idx < 0 || len(pointID) < idx+1+36 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(pointID[idx+1 : idx+1+36])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
