package main

import (
	"github.com/jwolter-go/vnetswitch/capref"
	"github.com/jwolter-go/vnetswitch/factory"
	"github.com/jwolter-go/vnetswitch/guestmem"
	"github.com/jwolter-go/vnetswitch/irq"
	"github.com/jwolter-go/vnetswitch/virtqueue"
)

// localTransport lays out a pair of empty virtqueues of the requested size
// over freshly allocated backing memory, giving a declaratively-created
// guest port somewhere real to publish descriptors into. It stands in for
// the queue addresses and registered dataspaces a real transport (vhost-user,
// an AF_UNIX peer) would negotiate over the IPC factory protocol, which this
// process does not implement.
func localTransport(queueSize int) factory.Transport {
	if queueSize <= 0 {
		queueSize = 256
	}

	ring := layoutRing(queueSize)
	txMem := guestmem.NewMap(guestmem.Region{Base: 0, Buf: ring.buf})
	rxRing := layoutRing(queueSize)
	rxMem := guestmem.NewMap(guestmem.Region{Base: 0, Buf: rxRing.buf})

	mem := guestmem.NewBoundedMap(factory.MaxDSMax)
	_ = mem.Register(guestmem.Region{Base: 0, Buf: ring.buf})
	_ = mem.Register(guestmem.Region{Base: uint64(len(ring.buf)), Buf: rxRing.buf})

	txQueue := virtqueue.New(txMem, uint16(queueSize), ring.descAddr, ring.availAddr, ring.usedAddr)
	rxQueue := virtqueue.New(rxMem, uint16(queueSize), rxRing.descAddr, rxRing.availAddr, rxRing.usedAddr)

	return factory.Transport{
		Mem:     mem,
		TXQueue: txQueue,
		RXQueue: rxQueue,
		IRQSink: irq.Null,
		Peer:    capref.AlwaysAlive,
	}
}

type ringLayout struct {
	buf       []byte
	descAddr  uint64
	availAddr uint64
	usedAddr  uint64
}

// layoutRing lays out a descriptor table, avail ring and used ring for a
// queue of the given size back to back in one buffer, matching the split
// virtqueue layout virtqueue.Queue expects.
func layoutRing(size int) ringLayout {
	descBytes := size * 16
	availBytes := 4 + size*2 + 2
	usedBytes := 4 + size*8 + 2

	buf := make([]byte, descBytes+availBytes+usedBytes)

	return ringLayout{
		buf:       buf,
		descAddr:  0,
		availAddr: uint64(descBytes),
		usedAddr:  uint64(descBytes + availBytes),
	}
}
