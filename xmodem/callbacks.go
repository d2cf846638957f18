package xmodem

// Callbacks provides hooks for XModem transfer events.
// All callbacks are optional - nil callbacks use default behavior.
type Callbacks struct {
	// OnTransferStart is called once the mode handshake completes and the
	// first block is about to move.
	OnTransferStart func(mode Mode)

	// OnProgress is called after each accepted block with the running
	// byte count. Wire it to a ProgressTracker for rate reporting.
	OnProgress func(bytesTransferred int64)

	// OnRetry is called whenever a block attempt is repeated.
	// blockNumber: the block being retried
	// attempt: how many attempts have been made so far
	// cause: what went wrong (timeout, NAK, integrity failure)
	OnRetry func(blockNumber byte, attempt int, cause error)

	// OnTransferComplete is called when the session ends successfully.
	OnTransferComplete func(bytesTransferred int64)

	// OnError is called when a fatal error ends the session.
	// context: description of where the error occurred
	OnError func(err error, context string)
}

// defaultCallbacks returns a set of callbacks with default implementations.
func defaultCallbacks() *Callbacks {
	return &Callbacks{
		OnTransferStart:    func(Mode) {},
		OnProgress:         func(int64) {},
		OnRetry:            func(byte, int, error) {},
		OnTransferComplete: func(int64) {},
		OnError:            func(error, string) {},
	}
}

// mergeCallbacks merges user callbacks with defaults.
// User callbacks override defaults, nil callbacks use defaults.
func mergeCallbacks(user *Callbacks) *Callbacks {
	def := defaultCallbacks()
	if user == nil {
		return def
	}

	result := &Callbacks{}

	if user.OnTransferStart != nil {
		result.OnTransferStart = user.OnTransferStart
	} else {
		result.OnTransferStart = def.OnTransferStart
	}

	if user.OnProgress != nil {
		result.OnProgress = user.OnProgress
	} else {
		result.OnProgress = def.OnProgress
	}

	if user.OnRetry != nil {
		result.OnRetry = user.OnRetry
	} else {
		result.OnRetry = def.OnRetry
	}

	if user.OnTransferComplete != nil {
		result.OnTransferComplete = user.OnTransferComplete
	} else {
		result.OnTransferComplete = def.OnTransferComplete
	}

	if user.OnError != nil {
		result.OnError = user.OnError
	} else {
		result.OnError = def.OnError
	}

	return result
}
