package main

import "go.uber.org/zap"

// enqueue stores key in the single pending slot and asks the transport
// for a send grant. Nothing is written here; the press goes out on the
// grant. A full slot drops the key.
func (k *keypad) enqueue(key Usage) {
	if k.pending.has {
		k.log.Debug("key dropped, slot occupied", zap.Stringer("key", key))
		return
	}
	k.pending = pendingReport{key: key, has: true}
	k.requestGrant()
}

// onSendGrant writes exactly one report. A pending key goes out as a
// press and another grant is requested for its release. An empty slot
// produces the neutral release report.
func (k *keypad) onSendGrant() {
	if k.pending.has {
		r := keyReport(k.pending.key)
		k.pending = pendingReport{}
		k.send(r)
		k.requestGrant()
		return
	}
	k.send(neutralReport())
}

func (k *keypad) requestGrant() {
	if err := k.tr.RequestSendGrant(k.handle); err != nil {
		k.log.Warn("request send grant", zap.Uint16("handle", uint16(k.handle)), zap.Error(err))
	}
}

func (k *keypad) send(r Report) {
	if err := k.tr.SendReport(k.handle, r[:]); err != nil {
		k.log.Warn("send report",
			zap.Uint16("handle", uint16(k.handle)),
			zap.Stringer("report", r),
			zap.Error(err),
		)
		return
	}
	k.sent++
	k.log.Debug("report sent", zap.Stringer("report", r))
}
