package stamper

import (
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/klaytn/ots-calendar/stamperrors"
)

// commitmentsBuried mirrors work/worker.go's package-level
// metrics.NewRegisteredCounter vars.
var commitmentsBuried = metrics.NewRegisteredCounter("stamper/commitments/buried", nil)

// updateKnownBlocks advances the reorg-detection window to the node's
// current tip, rolling back any blocks whose hash no longer matches what
// getblockhash reports at their height, and returns every block newly
// appended. Matches original_source/otsserver/stamper.py's KnownBlocks.
func (s *Stamper) updateKnownBlocks() ([]knownBlock, error) {
	var fresh []knownBlock

	for {
		tipHeight, err := s.rpc.GetBlockCount()
		if err != nil {
			return fresh, err
		}

		for len(s.knownBlocks) > 0 {
			last := s.knownBlocks[len(s.knownBlocks)-1]
			hash, err := s.rpc.GetBlockHash(last.height)
			if err != nil {
				return fresh, err
			}
			if hash == last.hash {
				break
			}
			logger.Info("reorg detected, rolling back known block", "height", last.height, "hash", last.hash)
			s.knownBlocks = s.knownBlocks[:len(s.knownBlocks)-1]
		}

		var nextHeight int64
		if len(s.knownBlocks) > 0 {
			nextHeight = s.knownBlocks[len(s.knownBlocks)-1].height + 1
		} else {
			nextHeight = tipHeight
		}
		if nextHeight > tipHeight {
			break
		}

		hash, err := s.rpc.GetBlockHash(nextHeight)
		if err != nil {
			return fresh, err
		}
		blk := knownBlock{height: nextHeight, hash: hash}
		s.knownBlocks = append(s.knownBlocks, blk)
		fresh = append(fresh, blk)

		if nextHeight == tipHeight {
			break
		}
	}

	return fresh, nil
}

// syncBitcoin buries confirmed transactions, rolls
// reorged ones back into pending, and check whether any outstanding
// version of the current RBF cycle made it into a new block. Matches
// original_source/otsserver/stamper.py's __do_bitcoin.
func (s *Stamper) syncBitcoin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBlocks, err := s.updateKnownBlocks()
	if err != nil {
		return err
	}

	for _, nb := range newBlocks {
		if err := s.processBlockHeight(nb); err != nil {
			return err
		}
	}

	return s.maybeEmit()
}

func (s *Stamper) processBlockHeight(nb knownBlock) error {
	buried := nb.height - int64(s.cfg.MinConfirmations) + 1
	if ct, ok := s.waiting[buried]; ok {
		if err := s.store.AddMany(ct.commitments); err != nil {
			return err
		}
		delete(s.waiting, buried)
		commitmentsBuried.Inc(int64(len(ct.commitments)))
		logger.Info("commitments buried", "height", buried, "count", len(ct.commitments))
	}

	if reorged, ok := s.waiting[nb.height]; ok {
		logger.Info("tx removed by reorg, returning commitments to pending", "height", nb.height, "count", len(reorged.commitments))
		raw := make([][]byte, len(reorged.commitments))
		for i, ct := range reorged.commitments {
			raw[i] = ct.Msg
		}
		s.pending.AddFront(raw)
		delete(s.waiting, nb.height)
	}

	block, err := s.rpc.GetBlock(nb.hash)
	if err != nil {
		return err
	}

	blockTxids := make(map[string]struct{}, len(block.Tx))
	for _, txid := range block.Tx {
		blockTxids[txid] = struct{}{}
	}

	for i := len(s.unconfirmed) - 1; i >= 0; i-- {
		tx := s.unconfirmed[i]
		if _, ok := blockTxids[tx.txid]; !ok {
			continue
		}

		logger.Info("found commitment in mined transaction", "txid", tx.txid, "height", nb.height)
		if err := buildBlockProof(tx.tip, block, tx.raw, nb.height); err != nil {
			return stamperrors.New(stamperrors.CodeBlockProofFailed, stamperrors.Fatal, "reconstructing block inclusion proof", err)
		}

		s.pending.RemovePrefix(tx.n)
		s.waiting[nb.height] = confirmedTx{tip: tx.tip, commitments: tx.commitments}
		s.unconfirmed = nil
		s.cycle = nil
		s.nextTimestampTx = time.Now().Add(randTxInterval(s.cfg.MinTxInterval))
		break
	}

	return nil
}
