package sqlinline

const QSelectAccount = `--sql 5f2c68db-cd1f-4bec-80c7-e2e2135567b5
select owner_id, subscription_active, credits, updated_at
from accounts
where owner_id = $1::text;
`

const QUpsertAccount = `--sql 6f8cc01f-1005-47d4-bc9c-b57312540257
insert into accounts (owner_id, subscription_active, credits, updated_at)
values ($1::text, $2::boolean, $3::int, $4::timestamptz)
on conflict (owner_id) do update set
    subscription_active = excluded.subscription_active,
    credits = excluded.credits,
    updated_at = excluded.updated_at;
`

const QAddCredits = `--sql 077698b3-0c82-4fec-a9c1-197ffe636b79
update accounts
set credits = greatest(credits + $2::int, 0), updated_at = $3::timestamptz
where owner_id = $1::text
returning owner_id, subscription_active, credits, updated_at;
`
