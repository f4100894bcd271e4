package wal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證日誌記錄的 CRC32 校驗和
// ============================================================================

import (
	"hash/crc32"
	"strconv"
)

// CalculateChecksum 計算記錄的 CRC32 校驗和
//
// 涵蓋除 Timestamp 與 Checksum 以外的所有欄位，欄位間以 0x1f 分隔。
func CalculateChecksum(e Event) uint32 {
	buf := make([]byte, 0, 96)
	buf = strconv.AppendUint(buf, e.Seq, 10)
	buf = append(buf, 0x1f)
	buf = append(buf, e.Type...)
	buf = append(buf, 0x1f)
	buf = append(buf, e.State...)
	buf = append(buf, 0x1f)
	buf = append(buf, e.SubState...)
	buf = append(buf, 0x1f)
	buf = strconv.AppendInt(buf, int64(e.Layer), 10)
	buf = append(buf, 0x1f)
	buf = strconv.AppendInt(buf, int64(e.TotalLayers), 10)
	buf = append(buf, 0x1f)
	buf = strconv.AppendInt(buf, int64(e.ErrorCode), 10)
	buf = append(buf, 0x1f)
	buf = append(buf, e.Detail...)
	buf = append(buf, 0x1f)
	buf = append(buf, e.JobID...)

	return crc32.ChecksumIEEE(buf)
}

// VerifyChecksum 驗證記錄的校驗和是否正確
func VerifyChecksum(e Event) bool {
	return e.Checksum == CalculateChecksum(e)
}
