// Package nsaas provides the application side of a zero-copy,
// kernel-bypass networking channel to a co-resident controller
// process.
//
// A typical caller attaches, connects or listens, then sends and
// receives messages until done:
//
//	ch, err := nsaas.Attach(nsaas.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ch.Shutdown()
//	defer ch.Detach()
//
//	flow, err := ch.Connect(nsaas.Flow{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", DstPort: 9000})
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := ch.Send(flow, []byte("hello")); err != nil {
//		log.Fatal(err)
//	}
//
// Each Attach call registers with the controller over its own
// long-lived connection (registration is not shared between Attach
// calls) and requests a fresh shared-memory channel; Bind maps
// an already-obtained fd directly. Datapath operations (Send/SendMsg/
// SendMmsg/Recv/RecvMsg) never block: a full ring or empty queue is
// reported to the caller rather than awaited.
package nsaas
