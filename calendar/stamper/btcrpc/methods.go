package btcrpc

import (
	"encoding/hex"

	"github.com/klaytn/ots-calendar/stamperrors"
)

// Block is the subset of `getblock` verbosity-1 output the Stamper needs:
// its own height/hash and the txids it contains, in on-chain order.
type Block struct {
	Hash   string   `json:"hash"`
	Height int64    `json:"height"`
	Tx     []string `json:"tx"`
}

// Unspent is one entry of `listunspent`.
type Unspent struct {
	TxID          string  `json:"txid"`
	Vout          uint32  `json:"vout"`
	Address       string  `json:"address"`
	ScriptPubKey  string  `json:"scriptPubKey"`
	Amount        float64 `json:"amount"`
	Confirmations int     `json:"confirmations"`
	Solvable      bool    `json:"solvable"`
}

// GetBlockCount returns the current chain tip height.
func (c *Client) GetBlockCount() (int64, error) {
	var height int64
	if err := c.Call("getblockcount", []interface{}{}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// GetBlockHash returns the block hash at height.
func (c *Client) GetBlockHash(height int64) (string, error) {
	var hash string
	if err := c.Call("getblockhash", []interface{}{height}, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlock fetches a block (verbosity 1: header fields plus txid list).
func (c *Client) GetBlock(hash string) (*Block, error) {
	var blk Block
	if err := c.Call("getblock", []interface{}{hash, 1}, &blk); err != nil {
		return nil, err
	}
	return &blk, nil
}

// GetRawTransaction returns the raw serialised bytes of txid, as included
// in block blockHash — used to locate the OP_RETURN commitment inside the
// stamper's own transaction for block-inclusion proof reconstruction.
func (c *Client) GetRawTransaction(txid, blockHash string) ([]byte, error) {
	var hexStr string
	if err := c.Call("getrawtransaction", []interface{}{txid, false, blockHash}, &hexStr); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "decoding getrawtransaction hex", err)
	}
	return raw, nil
}

// RawTxVin is one input of a getrawtransaction verbose result: the prevout
// it spends and the nSequence it signals, which is all the opt-in-RBF
// ancestry check in findSpendableOutput's unconfirmed fallback needs.
type RawTxVin struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
}

// RawTxVerbose is the subset of a getrawtransaction verbosity-1 result
// needed to walk a transaction's own inputs.
type RawTxVerbose struct {
	Vin []RawTxVin `json:"vin"`
}

// GetRawTransactionVerbose returns txid's decoded inputs, looking it up by
// wallet/mempool knowledge rather than a specific block.
func (c *Client) GetRawTransactionVerbose(txid string) (*RawTxVerbose, error) {
	var tx RawTxVerbose
	if err := c.Call("getrawtransaction", []interface{}{txid, true}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// TxOut is a `gettxout` result.
type TxOut struct {
	Value float64 `json:"value"`
}

// GetTxOut fetches the current value of outpoint (txid, vout) from the
// UTXO set, excluding the mempool.
func (c *Client) GetTxOut(txid string, vout uint32) (*TxOut, error) {
	var out TxOut
	if err := c.Call("gettxout", []interface{}{txid, vout, false}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUnspent lists wallet outputs with at least minconf confirmations.
func (c *Client) ListUnspent(minconf, maxconf int) ([]Unspent, error) {
	var out []Unspent
	if err := c.Call("listunspent", []interface{}{minconf, maxconf}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetNewAddress requests a fresh bech32 change address from the wallet.
func (c *Client) GetNewAddress() (string, error) {
	var addr string
	if err := c.Call("getnewaddress", []interface{}{"", "bech32"}, &addr); err != nil {
		return "", err
	}
	return addr, nil
}

// GetAddressScriptPubKey resolves addr's scriptPubKey, hex-decoded.
func (c *Client) GetAddressScriptPubKey(addr string) ([]byte, error) {
	var info struct {
		ScriptPubKey string `json:"scriptPubKey"`
	}
	if err := c.Call("getaddressinfo", []interface{}{addr}, &info); err != nil {
		return nil, err
	}
	script, err := hex.DecodeString(info.ScriptPubKey)
	if err != nil {
		return nil, stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "decoding getaddressinfo scriptPubKey", err)
	}
	return script, nil
}

// SignRawTransactionWithWallet signs an unsigned raw transaction (hex) with
// the node's own wallet keys.
func (c *Client) SignRawTransactionWithWallet(unsignedHex string) ([]byte, error) {
	var result struct {
		Hex      string `json:"hex"`
		Complete bool   `json:"complete"`
	}
	if err := c.Call("signrawtransactionwithwallet", []interface{}{unsignedHex}, &result); err != nil {
		return nil, err
	}
	if !result.Complete {
		return nil, stamperrors.New(stamperrors.CodeSignFailed, stamperrors.Retryable, "wallet could not fully sign transaction", nil)
	}
	raw, err := hex.DecodeString(result.Hex)
	if err != nil {
		return nil, stamperrors.FatalWrap(stamperrors.CodeRPCEncode, "decoding signed tx hex", err)
	}
	return raw, nil
}

// SendRawTransaction broadcasts a signed raw transaction and returns its
// txid. A bitcoind mempool-policy rejection (RBF underpriced, fee too low)
// surfaces as a Reject-class *stamperrors.Error so the Stamper's fee-bump
// loop can react without treating it as a transport failure.
func (c *Client) SendRawTransaction(signed []byte) (string, error) {
	var txid string
	err := c.Call("sendrawtransaction", []interface{}{hex.EncodeToString(signed)}, &txid)
	if err == nil {
		return txid, nil
	}
	if rpcErr, ok := err.(*rpcError); ok && rpcErr.Code == ErrCodeInsufficientPriority {
		return "", stamperrors.Rejected(stamperrors.CodeInsufficientFee, rpcErr.Message, rpcErr)
	}
	return "", err
}
