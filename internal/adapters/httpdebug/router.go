// Package httpdebug exposes the mirrored call state over a small gin
// router. Read-only: every handler renders the current effective view.
package httpdebug

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/callsync/internal/core"
	"github.com/dkeye/callsync/internal/domain"
)

type stateResponse struct {
	Version                 int64                `json:"version"`
	TotalCount              int                  `json:"total_count"`
	Title                   *string              `json:"title,omitempty"`
	RecordingStartTimestamp *int64               `json:"recording_start_timestamp,omitempty"`
	SortAscending           bool                 `json:"sort_ascending"`
	Participants            []domain.Participant `json:"participants"`
}

func SetupRouter(mode string, session *core.Session) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	log.Info().Str("module", "adapters.httpdebug").Msg("router setup")

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/call/state", func(c *gin.Context) {
		st, ok := session.CurrentState()
		if !ok {
			c.JSON(http.StatusGone, gin.H{"error": "session closed"})
			return
		}
		c.JSON(http.StatusOK, stateResponse{
			Version:                 st.Version,
			TotalCount:              st.TotalCount,
			Title:                   st.Title,
			RecordingStartTimestamp: st.RecordingStartTimestamp,
			SortAscending:           st.SortAscending,
			Participants:            st.Participants,
		})
	})

	r.GET("/call/speakers", func(c *gin.Context) {
		st, ok := session.CurrentState()
		if !ok {
			c.JSON(http.StatusGone, gin.H{"error": "session closed"})
			return
		}
		speakers := make([]domain.PeerID, 0)
		for i := range st.Participants {
			if st.Participants[i].ActivityRank != nil {
				speakers = append(speakers, st.Participants[i].PeerID)
			}
		}
		c.JSON(http.StatusOK, gin.H{"speakers": speakers})
	})

	return r
}
