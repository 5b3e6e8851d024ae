package sqlinline

const QInsertJobIfAbsent = `--sql 280d97d1-32b5-42ff-8b4e-288b7db99b7c
insert into jobs (
    id, owner_id, provider, status, simulated, input_refs, result_ref, failure_reason,
    idempotency_key, usage_kind, usage_quantity, charge_on, created_at, updated_at
)
values ($1::text, $2::text, $3::text, $4::text, $5::boolean, $6::jsonb, $7::text, $8::text,
        $9::text, $10::text, $11::int, $12::text, $13::timestamptz, $14::timestamptz)
on conflict do nothing;
`

const QSelectJobByID = `--sql 8cca4d06-3be9-44f0-b937-b3da50376eb4
select id, owner_id, provider, status, simulated, input_refs, result_ref, failure_reason,
       idempotency_key, usage_kind, usage_quantity, charge_on, created_at, updated_at
from jobs
where id = $1::text;
`

const QSelectJobByIdempotencyKey = `--sql 4998463f-86c2-4959-ac15-769fbdc4c34d
select id, owner_id, provider, status, simulated, input_refs, result_ref, failure_reason,
       idempotency_key, usage_kind, usage_quantity, charge_on, created_at, updated_at
from jobs
where idempotency_key = $1::text and idempotency_key <> ''
limit 1;
`

const QCompareAndSwapJobStatus = `--sql 9c17e44e-6845-4c68-8e26-445ca1749c8b
update jobs
set status = $3::text,
    result_ref = case when $3::text = 'completed' then $4::text else result_ref end,
    failure_reason = case when $3::text = 'error' then $5::text else failure_reason end,
    updated_at = $6::timestamptz
where id = $1::text and status = $2::text;
`

const QJobExists = `--sql 7718364d-7505-416a-993b-ee308b7121d2
select exists (select 1 from jobs where id = $1::text);
`

const QListProcessingJobsBefore = `--sql bb5d5f04-884b-4b3b-a343-1b026de280ab
select id, owner_id, provider, status, simulated, input_refs, result_ref, failure_reason,
       idempotency_key, usage_kind, usage_quantity, charge_on, created_at, updated_at
from jobs
where status = 'processing' and updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`
