package stamper

import (
	"math"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/klaytn/ots-calendar/calendar/stamper/btcrpc"
	"github.com/klaytn/ots-calendar/stamperrors"
)

var txsSent = metrics.NewRegisteredCounter("stamper/tx/sent", nil)

// dustSatoshis mirrors bitcoind's default relay dust threshold, matching
// stamper.py's find_unspent filter.
const dustSatoshis = 546

// maybeEmit sends (or RBF-bumps) a timestamp transaction once min_tx_interval
// has elapsed and there is at least one pending commitment. Called with
// s.mu held, from syncBitcoin's per-tick pass.
func (s *Stamper) maybeEmit() error {
	if time.Now().Before(s.nextTimestampTx) {
		return nil
	}
	if s.pending.Len() == 0 {
		return nil
	}
	return s.emit()
}

// emit builds a transaction committing to every currently pending
// commitment and broadcasts it, bumping the feerate on a -26 rejection
// until either it's accepted or the fee exceeds MaxFeeSatoshis. Matches
// original_source/otsserver/stamper.py's tail half of __do_bitcoin.
func (s *Stamper) emit() error {
	if s.cycle == nil {
		if err := s.findSpendableOutput(); err != nil {
			return err
		}
	}

	root, commitments := pendingToMerkleTree(s.pending.Prefix(s.pending.Len()))
	logger.Debug("new timestamp tx tip", "tip", root.Msg)

	feerate := s.cfg.RelayFeerate
	for {
		tmpl, err := newTimestampTxTemplate(s.cycle.txid, s.cycle.vout, s.cycle.changeValue, s.cycle.changeScript)
		if err != nil {
			return err
		}

		updated, fee, err := updateTimestampTx(tmpl, root.Msg, feerate)
		if err != nil {
			return err
		}
		if fee > s.cfg.MaxFeeSatoshis {
			logger.Error("maximum timestamp tx fee exceeded, not sending", "fee", fee, "max", s.cfg.MaxFeeSatoshis)
			return nil
		}

		unsignedHex, err := serializeUnsignedHex(updated)
		if err != nil {
			return err
		}
		signed, err := s.rpc.SignRawTransactionWithWallet(unsignedHex)
		if err != nil {
			return err
		}

		txid, err := s.rpc.SendRawTransaction(signed)
		if err != nil {
			if stamperrors.IsClass(err, stamperrors.Reject) {
				logger.Debug("tx rejected, doubling feerate and retrying", "feerate", feerate, "err", err)
				feerate *= 2
				continue
			}
			return err
		}

		s.unconfirmed = append(s.unconfirmed, unconfirmedTx{
			txid:        txid,
			raw:         signed,
			tip:         root,
			commitments: commitments,
			n:           len(commitments),
		})
		txsSent.Inc(1)
		logger.Info("sent timestamp tx", "txid", txid, "commitments", len(commitments), "fee", fee,
			"replacing", len(s.unconfirmed)-1)
		s.nextTimestampTx = time.Now().Add(randTxInterval(s.cfg.MinTxInterval))
		return nil
	}
}

// findSpendableOutput picks the wallet's largest confirmed spendable
// output to fund a new RBF cycle, falling back to an unconfirmed output of
// our own prior (opt-in RBF) chain if nothing confirmed is available.
// Matches stamper.py's find_unspent.
func (s *Stamper) findSpendableOutput() error {
	unspent, err := s.rpc.ListUnspent(1, 9999999)
	if err != nil {
		return err
	}
	pick := pickLargestSpendable(unspent)

	if pick == nil {
		unspent, err = s.rpc.ListUnspent(0, 1)
		if err != nil {
			return err
		}
		var ownChain []btcrpc.Unspent
		for i := range unspent {
			if !unspent[i].Solvable {
				continue
			}
			if txid, vout, amount, ok := s.ownRBFFundingOutpoint(&unspent[i]); ok {
				ownChain = append(ownChain, btcrpc.Unspent{TxID: txid, Vout: vout, Amount: amount, Solvable: true})
			}
		}
		pick = pickLargestSpendable(ownChain)
	}
	if pick == nil {
		return stamperrors.New(stamperrors.CodeNoSpendableOutput, stamperrors.Retryable, "no spendable wallet outputs", nil)
	}

	addr, err := s.rpc.GetNewAddress()
	if err != nil {
		return err
	}
	script, err := s.rpc.GetAddressScriptPubKey(addr)
	if err != nil {
		return err
	}

	s.cycle = &spendable{
		txid:         pick.TxID,
		vout:         pick.Vout,
		changeValue:  satoshis(pick.Amount),
		changeScript: script,
	}
	logger.Debug("new timestamp tx cycle, spending output", "txid", pick.TxID, "vout", pick.Vout, "value", s.cycle.changeValue)
	return nil
}

// ownRBFFundingOutpoint walks candidate's funding transaction's own inputs
// looking for one that descends from a single-input, opt-in-RBF-signalling
// transaction of ours (nSequence 0xfffffffd) — the ancestry check
// stamper.py's find_unspent performs before trusting an unconfirmed output.
// On a match it returns the confirmed outpoint that funds that chain:
// spending it conflicts with (and RBF-replaces) our own prior tx, rather
// than spending an output that happens to belong to someone else.
func (s *Stamper) ownRBFFundingOutpoint(candidate *btcrpc.Unspent) (txid string, vout uint32, amount float64, ok bool) {
	fundingTx, err := s.rpc.GetRawTransactionVerbose(candidate.TxID)
	if err != nil {
		return "", 0, 0, false
	}
	for _, in := range fundingTx.Vin {
		prevTx, err := s.rpc.GetRawTransactionVerbose(in.TxID)
		if err != nil {
			continue
		}
		if len(prevTx.Vin) != 1 || prevTx.Vin[0].Sequence != 0xfffffffd {
			continue
		}
		out, err := s.rpc.GetTxOut(in.TxID, in.Vout)
		if err != nil || out == nil {
			continue
		}
		return in.TxID, in.Vout, out.Value, true
	}
	return "", 0, 0, false
}

func pickLargestSpendable(unspent []btcrpc.Unspent) *btcrpc.Unspent {
	var best *btcrpc.Unspent
	for i := range unspent {
		u := &unspent[i]
		if !u.Solvable {
			continue
		}
		if satoshis(u.Amount) <= dustSatoshis {
			continue
		}
		if best == nil || satoshis(u.Amount) > satoshis(best.Amount) {
			best = u
		}
	}
	return best
}

func satoshis(btc float64) int64 {
	return int64(math.Round(btc * 1e8))
}
