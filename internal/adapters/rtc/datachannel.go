package rtc

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/MusicParty/internal/core"
)

// DataChannel adapts a pion data channel to core.DataChannel.
type DataChannel struct {
	dc *webrtc.DataChannel
}

var _ core.DataChannel = (*DataChannel)(nil)

func (d *DataChannel) Label() string           { return d.dc.Label() }
func (d *DataChannel) Send(f core.Frame) error { return d.dc.Send(f) }
func (d *DataChannel) SendText(s string) error { return d.dc.SendText(s) }
func (d *DataChannel) BufferedAmount() uint64  { return d.dc.BufferedAmount() }
func (d *DataChannel) Close() error            { return d.dc.Close() }
func (d *DataChannel) IsOpen() bool            { return d.dc.ReadyState() == webrtc.DataChannelStateOpen }
