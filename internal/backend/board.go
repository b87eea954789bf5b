package backend

import (
	"fmt"

	"github.com/mil-ad/kbdctl/internal/daemon"
	"github.com/mil-ad/kbdctl/internal/protocol"
)

// BoardInfo is what is known about a board once it has been added.
type BoardInfo struct {
	ID            protocol.BoardID
	Model         string
	Version       string
	MaxBrightness int
	HasLedSave    bool
	HasMatrix     bool
	HasKeymap     bool
	IsFake        bool
}

const defaultMaxBrightness = 100

// probeBoard collects BoardInfo. Only the model is required; missing
// capabilities are discovered by trying them.
func (t *Thread) probeBoard(d daemon.Daemon, id protocol.BoardID) (BoardInfo, error) {
	model, err := d.Model(id)
	if err != nil {
		return BoardInfo{}, fmt.Errorf("get board model: %w", err)
	}
	info := BoardInfo{ID: id, Model: model, IsFake: d.IsFake()}

	if info.Version, err = d.Version(id); err != nil {
		t.logger.Printf("Error getting firmware version of %s: %v", model, err)
		info.Version = ""
	}
	if info.MaxBrightness, err = d.MaxBrightness(id); err != nil {
		t.logger.Printf("Error getting max brightness of %s: %v", model, err)
		info.MaxBrightness = defaultMaxBrightness
	}

	info.HasLedSave = d.LedSave(id) == nil
	_, err = d.MatrixGet(id)
	info.HasMatrix = err == nil
	_, err = d.KeymapGet(id, 0, 0, 0)
	info.HasKeymap = err == nil
	return info, nil
}
