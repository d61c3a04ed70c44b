package stamper

import (
	"bytes"
	"encoding/hex"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/klaytn/ots-calendar/stamperrors"
)

// rbfSequence opts a transaction's single input into BIP 125 replace-by-fee,
// matching original_source/otsserver/stamper.py's nSequence=0xfffffffd.
const rbfSequence = 0xfffffffd

// newTimestampTxTemplate builds the one-input, two-output template:
// a change output and a placeholder commitment output. The
// placeholder is overwritten by updateTimestampTx on every fee-bump attempt.
func newTimestampTxTemplate(prevTxid string, vout uint32, changeValue int64, changeScript []byte) (*wire.MsgTx, error) {
	hash, err := chainhash.NewHashFromStr(prevTxid)
	if err != nil {
		return nil, stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "parsing prior outpoint txid", err)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	txIn := wire.NewTxIn(wire.NewOutPoint(hash, vout), nil, nil)
	txIn.Sequence = rbfSequence
	tx.AddTxIn(txIn)

	tx.AddTxOut(wire.NewTxOut(changeValue, changeScript))
	tx.AddTxOut(wire.NewTxOut(0, nil)) // placeholder, replaced per attempt
	return tx, nil
}

// updateTimestampTx returns a copy of tx with its change output reduced by
// size*feeRate and its second output rewritten as OP_RETURN||commitment,
// matching stamper.py's __update_timestamp_tx.
func updateTimestampTx(tx *wire.MsgTx, commitment []byte, feeRate int64) (*wire.MsgTx, int64, error) {
	if len(tx.TxOut) != 2 {
		return nil, 0, errors.New("stamper: timestamp tx template must have exactly two outputs")
	}

	opReturn, err := txscript.NullDataScript(commitment)
	if err != nil {
		return nil, 0, stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "building OP_RETURN script", err)
	}

	updated := tx.Copy()
	updated.TxOut[1] = wire.NewTxOut(0, opReturn)

	size := int64(updated.SerializeSize())
	fee := size * feeRate
	updated.TxOut[0].Value = tx.TxOut[0].Value - fee
	if updated.TxOut[0].Value <= 0 {
		return nil, 0, stamperrors.New(stamperrors.CodeNoSpendableOutput, stamperrors.Retryable, "change output exhausted by fee", nil)
	}
	return updated, fee, nil
}

// serializeUnsignedHex renders tx for the signrawtransactionwithwallet RPC.
func serializeUnsignedHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "serializing unsigned tx", err)
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
