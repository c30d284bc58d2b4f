// Package capture drives a Pipeline from a live interface or a pcap file.
// It owns the gopacket/pcap handle; the core engine never imports gopacket
// itself, since its contract is the raw (bytes, timestamp) pair described in
// the pipeline package.
package capture

import (
	"context"
	"time"

	"github.com/google/gopacket"
	_ "github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
)

// defaultSnapLen matches tcpdump's own default.
const defaultSnapLen = 262144

// Source yields captured frames until ctx is canceled or the underlying
// handle runs dry (end of a pcap file, device torn down).
type Source interface {
	Capture(ctx context.Context) (<-chan gopacket.Packet, error)
}

// FileSource reads frames from an existing pcap/pcapng capture file.
type FileSource struct {
	Path     string
	BPFilter string
}

func NewFileSource(path, bpfilter string) *FileSource {
	return &FileSource{Path: path, BPFilter: bpfilter}
}

func (f *FileSource) Capture(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenOffline(f.Path)
	if err != nil {
		return nil, err
	}
	if len(f.BPFilter) > 0 {
		if err := handle.SetBPFFilter(f.BPFilter); err != nil {
			handle.Close()
			return nil, err
		}
	}

	out := make(chan gopacket.Packet, 100)
	go func() {
		defer handle.Close()
		defer close(out)
		packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
		for packet := range packetSource.Packets() {
			select {
			case <-ctx.Done():
				return
			case out <- packet:
			}
		}
	}()
	return out, nil
}

// DeviceSource sniffs a live network interface.
type DeviceSource struct {
	Device   string
	BPFilter string
}

func NewDeviceSource(device, bpfilter string) *DeviceSource {
	return &DeviceSource{Device: device, BPFilter: bpfilter}
}

func (d *DeviceSource) Capture(ctx context.Context) (<-chan gopacket.Packet, error) {
	handle, err := pcap.OpenLive(d.Device, defaultSnapLen, true, pcap.BlockForever)
	if err != nil {
		return nil, err
	}
	if len(d.BPFilter) > 0 {
		if err := handle.SetBPFFilter(d.BPFilter); err != nil {
			handle.Close()
			return nil, err
		}
	}

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packetChan := packetSource.Packets()

	out := make(chan gopacket.Packet, 100)
	go func() {
		defer handle.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case pkt, ok := <-packetChan:
				if !ok {
					return
				}
				out <- pkt
			}
		}
	}()
	return out, nil
}

// PacketProcessor matches pipeline.Pipeline.ProcessPacket, kept as an
// interface here so this package doesn't import pipeline for its own sake.
type PacketProcessor interface {
	ProcessPacket(frame []byte, timestamp uint64) error
}

// Run reads every frame src produces and feeds it to proc, logging and
// skipping frames ProcessPacket rejects rather than aborting the capture.
// It returns when ctx is canceled or src's channel closes.
func Run(ctx context.Context, src Source, proc PacketProcessor, log *logrus.Entry) error {
	packets, err := src.Capture(ctx)
	if err != nil {
		return err
	}

	for packet := range packets {
		if packet.NetworkLayer() == nil && packet.LinkLayer() == nil {
			continue
		}

		timestamp := uint64(time.Now().UnixNano())
		if meta := packet.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
			timestamp = uint64(meta.Timestamp.UnixNano())
		}

		if err := proc.ProcessPacket(packet.Data(), timestamp); err != nil && log != nil {
			log.WithError(err).Debug("dropped frame")
		}
	}
	return nil
}
