package scc

// Command identifiers, the first and only byte of a request.
const (
	CmdSCStop uint8 = iota
	CmdSCStart
	CmdHTStart
	CmdHTRestart
	CmdHTAbort
	CmdHTEnd
	CmdPPDStart
)

// Command status codes.
const (
	CmdOK            uint8 = 0x00
	CmdNOK           uint8 = 0x01
	CmdUnknown       uint8 = 0x02
	CmdNoTxSyncSpace uint8 = 0x08
	CmdBadRawFormat  uint8 = 0x0A
)

// Command executes a request from the host. rx carries the command
// identifier. Start, stop and pole pair detection answer with one byte, the
// state after the command, written to tx; they are refused without side
// effects unless txSyncFreeSpace and tx both leave room for it. The return
// values are the number of bytes written and the status.
func (c *Controller) Command(rx []byte, txSyncFreeSpace int, tx []byte) (int, uint8) {
	if c == nil {
		return 0, CmdNOK
	}
	if len(rx) != 1 {
		return 0, CmdBadRawFormat
	}

	switch id := rx[0]; id {
	case CmdSCStart, CmdSCStop, CmdPPDStart:
		if txSyncFreeSpace < 1 || len(tx) < 1 {
			return 0, CmdNoTxSyncSpace
		}
		var err error
		switch id {
		case CmdSCStart:
			err = c.Start()
		case CmdSCStop:
			err = c.Stop()
		default:
			err = c.StartPolePairDetection()
		}
		tx[0] = byte(c.state)
		if err != nil {
			return 1, CmdNOK
		}
		return 1, CmdOK
	case CmdHTStart, CmdHTRestart, CmdHTAbort, CmdHTEnd:
		ht := c.d.HallTuner
		if ht == nil {
			return 0, CmdNOK
		}
		var err error
		switch id {
		case CmdHTStart:
			err = ht.Start()
		case CmdHTRestart:
			err = ht.Restart()
		case CmdHTAbort:
			err = ht.Abort()
		default:
			err = ht.End()
		}
		if err != nil {
			return 0, CmdNOK
		}
		return 0, CmdOK
	}
	return 0, CmdUnknown
}
