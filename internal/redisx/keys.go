package redisx

import "time"

const (
	// Fast-view stok tersedia: stock:{product_id} -> int
	KeyStock = "stock:%s"

	// Jumlah yang sedang di-hold order in-flight: reserved:{product_id} -> int
	KeyReserved = "reserved:%s"

	// Produk yang perlu rekonsiliasi setelah confirm gagal (set of product_id)
	KeyReconcilePending = "reconcile:pending"

	// Idempotency create order: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStock       = 24 * time.Hour
	TTLReservation = 1 * time.Hour
	TTLIdempotency = 24 * time.Hour
	TTLDedup       = 48 * time.Hour
)
