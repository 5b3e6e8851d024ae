package sqlinline

const QSelectUsageEntry = `--sql 6b2402be-73dc-4f26-9d13-c400ef044b1c
select idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at
from usage_ledger
where idempotency_key = $1::text;
`

// QInsertPendingUsage returns the stored row and whether this call created it.
// A row committed by a concurrent statement after our snapshot yields no rows.
const QInsertPendingUsage = `--sql 79b23221-4da6-41f5-b001-6761bc2edfb8
with ins as (
    insert into usage_ledger (idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at)
    values ($1::text, $2::text, $3::text, $4::int, 'pending', '', $5::timestamptz)
    on conflict (idempotency_key) do nothing
    returning idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at
)
select idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at, true
from ins
union all
select idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at, false
from usage_ledger
where idempotency_key = $1::text and not exists (select 1 from ins);
`

// QDenyUsage records a denial for an absent key. No row is returned when
// the key already exists in any state.
const QDenyUsage = `--sql a85aa535-f692-4d58-870b-57f59c5089b1
insert into usage_ledger (idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at)
values ($1::text, $2::text, $3::text, $4::int, 'denied', $5::text, $6::timestamptz, $6::timestamptz)
on conflict (idempotency_key) do nothing
returning idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at, completed_at;
`

const QReserveUsageKey = `--sql 793beed7-de16-4e7a-8942-b04298d64526
insert into usage_ledger (idempotency_key, owner_id, kind, quantity, status, denial_reason, created_at)
values ($1::text, $2::text, $3::text, $4::int, 'pending', '', $5::timestamptz)
on conflict (idempotency_key) do nothing;
`

// QReleaseUsageKey drops a pending row reserved by a confirm that could not charge.
const QReleaseUsageKey = `--sql 3d0f6a2e-8b51-4c7e-a9d4-5e2b71c60f93
delete from usage_ledger
where idempotency_key = $1::text and status = 'pending';
`

// QConfirmUsage claims a pending row and deducts the account in one statement.
// The row lock on usage_ledger serialises confirms of the same key and the
// credits check constraint aborts the whole statement on overdraft.
const QConfirmUsage = `--sql 82ee18ae-80dc-4e3d-9371-96887ca1abf2
with claimed as (
    update usage_ledger
    set status = 'success', denial_reason = '', completed_at = $5::timestamptz
    where idempotency_key = $1::text
      and status = 'pending'
      and owner_id = $2::text
      and kind = $3::text
      and quantity = $4::int
      and exists (
          select 1 from accounts
          where owner_id = $2::text and subscription_active and credits >= $4::int
      )
    returning idempotency_key
),
charged as (
    update accounts
    set credits = credits - $4::int, updated_at = $5::timestamptz
    where owner_id = $2::text and exists (select 1 from claimed)
    returning owner_id
)
select (select count(*) from claimed), (select count(*) from charged);
`
