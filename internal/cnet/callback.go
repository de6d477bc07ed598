package cnet

// AsyncCallback correlates a client-side request with its response frame.
// The response handler looks it up by request id, runs it with the codec
// positioned at the payload, and removes it.
type AsyncCallback interface {
	Run(tr *Transfer) error
}

// IntAsyncCallback materializes a single integer result, typically an update
// count. Get blocks until the response arrives.
type IntAsyncCallback struct {
	ch chan int32
}

func NewIntAsyncCallback() *IntAsyncCallback {
	return &IntAsyncCallback{ch: make(chan int32, 1)}
}

func (c *IntAsyncCallback) SetResult(v int32) {
	select {
	case c.ch <- v:
	default:
	}
}

func (c *IntAsyncCallback) Get() int32 {
	return <-c.ch
}

func (c *IntAsyncCallback) Run(tr *Transfer) error {
	v, err := tr.ReadInt()
	if err != nil {
		return err
	}
	c.SetResult(v)
	return nil
}

// FuncAsyncCallback hands the positioned codec to user code.
type FuncAsyncCallback func(tr *Transfer) error

func (f FuncAsyncCallback) Run(tr *Transfer) error {
	return f(tr)
}
