package netflow

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func putV5Header(buf []byte, count uint16) {
	binary.BigEndian.PutUint16(buf[0:2], 5)
	binary.BigEndian.PutUint16(buf[2:4], count)
}

func TestDecodeV5FixedFormat(t *testing.T) {
	buf := make([]byte, v5HeaderLen+v5RecordLen)
	putV5Header(buf, 1)
	rec := buf[v5HeaderLen:]
	copy(rec[0:4], []byte{10, 0, 0, 1})
	copy(rec[4:8], []byte{10, 0, 0, 2})
	binary.BigEndian.PutUint32(rec[16:20], 7)     // packets
	binary.BigEndian.PutUint32(rec[20:24], 12345) // bytes
	binary.BigEndian.PutUint16(rec[32:34], 443)
	binary.BigEndian.PutUint16(rec[34:36], 54321)
	rec[38] = 6 // TCP

	records, err := decodeV5(buf, v5RecordLen)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "10.0.0.1", records[0].SrcAddr)
	require.Equal(t, "10.0.0.2", records[0].DstAddr)
	require.EqualValues(t, 12345, records[0].Bytes)
	require.EqualValues(t, 7, records[0].Packets)
	require.EqualValues(t, 443, records[0].SrcPort)
	require.EqualValues(t, 6, records[0].Protocol)
}

func TestDecodeV5RejectsTruncatedBody(t *testing.T) {
	buf := make([]byte, v5HeaderLen+10)
	putV5Header(buf, 1)
	_, err := decodeV5(buf, v5RecordLen)
	require.Error(t, err)
}

// buildV9Template constructs a minimal v9 Template FlowSet declaring fields
// octetDeltaCount, ipv4SrcAddr, ipv4DstAddr.
func buildV9Template(templateID uint16) []byte {
	fields := []field{
		{ID: fieldIPv4SrcAddr, Length: 4},
		{ID: fieldIPv4DstAddr, Length: 4},
		{ID: fieldOctetDeltaCount, Length: 4},
	}
	body := make([]byte, 4+len(fields)*4)
	binary.BigEndian.PutUint16(body[0:2], templateID)
	binary.BigEndian.PutUint16(body[2:4], uint16(len(fields)))
	for i, f := range fields {
		binary.BigEndian.PutUint16(body[4+i*4:6+i*4], f.ID)
		binary.BigEndian.PutUint16(body[6+i*4:8+i*4], uint16(f.Length))
	}

	set := make([]byte, 4+len(body))
	binary.BigEndian.PutUint16(set[0:2], flowSetTemplateV9)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	copy(set[4:], body)
	return set
}

func buildV9Data(templateID uint16, srcIP, dstIP [4]byte, octets uint32) []byte {
	record := make([]byte, 12)
	copy(record[0:4], srcIP[:])
	copy(record[4:8], dstIP[:])
	binary.BigEndian.PutUint32(record[8:12], octets)

	set := make([]byte, 4+len(record))
	binary.BigEndian.PutUint16(set[0:2], templateID)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	copy(set[4:], record)
	return set
}

func v9Header(flowSets ...[]byte) []byte {
	total := 20
	for _, fs := range flowSets {
		total += len(fs)
	}
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], 9)
	off := 20
	for _, fs := range flowSets {
		copy(buf[off:], fs)
		off += len(fs)
	}
	return buf
}

func TestDecodeV9LearnsTemplateThenDecodesData(t *testing.T) {
	cache := newTemplateCache(10, time.Hour)
	pending := newPendingBuffer(16)

	tmplSet := buildV9Template(256)
	datagram := v9Header(tmplSet)
	res, err := decodeV9(datagram, "exporter-1", cache, pending)
	require.NoError(t, err)
	require.Empty(t, res.Records)

	dataSet := buildV9Data(256, [4]byte{192, 168, 1, 1}, [4]byte{192, 168, 1, 2}, 99999)
	datagram2 := v9Header(dataSet)
	res, err = decodeV9(datagram2, "exporter-1", cache, pending)
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Equal(t, "192.168.1.1", res.Records[0].SrcAddr)
	require.Equal(t, "192.168.1.2", res.Records[0].DstAddr)
	require.EqualValues(t, 99999, res.Records[0].Bytes)
}

func TestDecodeV9BuffersDataSetAheadOfItsTemplate(t *testing.T) {
	cache := newTemplateCache(10, time.Hour)
	pending := newPendingBuffer(16)

	dataSet := buildV9Data(512, [4]byte{1, 1, 1, 1}, [4]byte{2, 2, 2, 2}, 42)
	datagram := v9Header(dataSet)
	res, err := decodeV9(datagram, "exporter-2", cache, pending)
	require.NoError(t, err)
	require.Empty(t, res.Records) // template unknown: buffered, not decoded yet

	ready, stale := pending.DrainRetryable("exporter-2", cache, time.Hour)
	require.Empty(t, ready) // still no template
	require.Empty(t, stale) // not yet past maxAge

	tmplSet := buildV9Template(512)
	_, err = decodeV9(v9Header(tmplSet), "exporter-2", cache, pending)
	require.NoError(t, err)

	ready, stale = pending.DrainRetryable("exporter-2", cache, time.Hour)
	require.Empty(t, stale)
	require.Len(t, ready, 1)
}

func TestTemplateCacheEvictsOldestBeyondCapacity(t *testing.T) {
	cache := newTemplateCache(2, time.Hour)
	cache.Put(templateKey{Exporter: "e", ID: 1}, &template{})
	cache.Put(templateKey{Exporter: "e", ID: 2}, &template{})
	cache.Put(templateKey{Exporter: "e", ID: 3}, &template{})

	_, ok := cache.Get(templateKey{Exporter: "e", ID: 1})
	require.False(t, ok)
	_, ok = cache.Get(templateKey{Exporter: "e", ID: 3})
	require.True(t, ok)
}

func TestTemplateCachePurgesExpiredEntries(t *testing.T) {
	cache := newTemplateCache(10, 20*time.Millisecond)
	cache.Put(templateKey{Exporter: "e", ID: 1}, &template{})
	time.Sleep(40 * time.Millisecond)
	cache.PurgeExpired()
	_, ok := cache.Get(templateKey{Exporter: "e", ID: 1})
	require.False(t, ok)
}

func TestPendingBufferDropsOldestBeyondLimit(t *testing.T) {
	buf := newPendingBuffer(2)
	buf.Add("e", templateKey{ID: 1}, []byte("a"))
	buf.Add("e", templateKey{ID: 2}, []byte("b"))
	buf.Add("e", templateKey{ID: 3}, []byte("c"))

	cache := newTemplateCache(10, time.Hour)
	cache.Put(templateKey{ID: 1}, &template{})
	cache.Put(templateKey{ID: 2}, &template{})
	cache.Put(templateKey{ID: 3}, &template{})

	ready, _ := buf.DrainRetryable("e", cache, time.Hour)
	require.Len(t, ready, 2) // id 1 was evicted to respect the cap of 2
}
