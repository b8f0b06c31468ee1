package queue

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// 有序索引成员采用定宽零填充的字典序编码：
//
//	PPPPPPPPPPP:TTTTTTTTTTTTTTTTTTTT:SSSSSSSSSS:<id>
//
// 所有成员分值相同 (0)，Redis 按成员字典序排序，等价于按
// (priority, unix-nano 时间戳, 序号) 排序。各段定宽，不会溢出或互相串位。
const (
	priorityOffset = int64(math.MaxInt32) + 1 // 负优先级平移到非负区间
	priorityWidth  = 11
	timestampWidth = 20
	seqWidth       = 10
	seqModulo      = 10_000_000_000
)

// encodeMember 生成有序索引成员
func encodeMember(priority int, ts time.Time, seq uint64, id string) (string, error) {
	if int64(priority) < math.MinInt32 || int64(priority) > math.MaxInt32 {
		return "", fmt.Errorf("优先级超出可编码范围: %d", priority)
	}
	nanos := ts.UnixNano()
	if nanos < 0 {
		nanos = 0
	}
	return fmt.Sprintf("%0*d:%0*d:%0*d:%s",
		priorityWidth, int64(priority)+priorityOffset,
		timestampWidth, nanos,
		seqWidth, seq%seqModulo,
		id), nil
}

// decodeMemberID 从索引成员中取出 id
func decodeMemberID(member string) (string, error) {
	parts := strings.SplitN(member, ":", 4)
	if len(parts) != 4 || parts[3] == "" {
		return "", fmt.Errorf("索引成员格式错误: %q", member)
	}
	return parts[3], nil
}
