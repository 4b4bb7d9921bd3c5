package webrtc

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"codecollab/internal/core/domain"
)

// statsReportEvery bounds how often the pump pushes aggregated stats upstream.
const statsReportEvery = 100

// statsPump reads one remote audio track's RTP flow and its receiver's RTCP
// reports, aggregating them into AudioStats for the voice manager.
type statsPump struct {
	remote domain.ClientID
	logger *zap.SugaredLogger
	report func(remote domain.ClientID, stats domain.AudioStats)

	mu    sync.Mutex
	stats domain.AudioStats
}

func newStatsPump(remote domain.ClientID, logger *zap.SugaredLogger, report func(remote domain.ClientID, stats domain.AudioStats)) *statsPump {
	return &statsPump{
		remote: remote,
		logger: logger,
		report: report,
	}
}

func (p *statsPump) readRTP(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500) // MTU size
	packet := &rtp.Packet{}
	count := uint64(0)

	for {
		n, _, err := track.Read(buf)
		if err != nil {
			p.logger.Debugw("remote track closed", "remote", p.remote, "error", err)
			return
		}
		if err := packet.Unmarshal(buf[:n]); err != nil {
			p.logger.Debugw("error unmarshaling RTP packet", "remote", p.remote, "error", err)
			continue
		}

		p.mu.Lock()
		p.stats.PacketsReceived++
		p.stats.BytesReceived += uint64(n)
		p.stats.LastSequence = packet.SequenceNumber
		p.mu.Unlock()

		count++
		if count%statsReportEvery == 0 {
			p.flush()
		}
	}
}

func (p *statsPump) readRTCP(receiver *webrtc.RTPReceiver) {
	for {
		packets, _, err := receiver.ReadRTCP()
		if err != nil {
			p.logger.Debugw("RTCP reader closed", "remote", p.remote, "error", err)
			return
		}

		for _, packet := range packets {
			switch rr := packet.(type) {
			case *rtcp.ReceiverReport:
				for _, report := range rr.Reports {
					// Jitter is reported in RTP timestamp units; Opus runs at
					// a 48kHz clock.
					jitter := time.Duration(report.Jitter) * time.Second / 48000
					p.mu.Lock()
					p.stats.Jitter = jitter
					p.mu.Unlock()
				}
				p.flush()

			case *rtcp.SenderReport:
				p.logger.Debugw("received sender report",
					"remote", p.remote,
					"packet_count", rr.PacketCount,
					"octet_count", rr.OctetCount,
				)
			}
		}
	}
}

func (p *statsPump) flush() {
	if p.report == nil {
		return
	}
	p.mu.Lock()
	p.stats.LastReport = time.Now()
	snapshot := p.stats
	p.mu.Unlock()
	p.report(p.remote, snapshot)
}
