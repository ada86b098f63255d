package memory

import (
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/catalog"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/currency"
	"github.com/NeuroMod-Labs/reward_engine/internal/app/domain/session"
)

func cloneMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneAssembly(snap *catalog.AssemblySnapshot) *catalog.AssemblySnapshot {
	if snap == nil {
		return nil
	}
	out := *snap
	out.Slots = make([]catalog.AssemblySlot, len(snap.Slots))
	for i, slot := range snap.Slots {
		slot.Connections = append([]string(nil), slot.Connections...)
		out.Slots[i] = slot
	}
	return &out
}

func cloneSession(sess session.FocusSession) session.FocusSession {
	sess.Assembly = cloneAssembly(sess.Assembly)
	return sess
}

func cloneDefinition(def catalog.Definition) catalog.Definition {
	def.Effects = append([]catalog.Effect(nil), def.Effects...)
	return def
}

func cloneTransaction(tx currency.Transaction) currency.Transaction {
	tx.Metadata = cloneMap(tx.Metadata)
	return tx
}
